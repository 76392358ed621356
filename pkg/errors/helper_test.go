// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"context"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	var (
		rfcError  = ErrXClusterBootstrapFailed
		err       = errors.New("test")
		testCases = []struct {
			err      error
			isNil    bool
			expected string
			args     []interface{}
		}{
			{nil, true, "", []interface{}{}},
			{
				err, false,
				"[XC:ErrXClusterBootstrapFailed]failed to bootstrap table for xCluster replication group g1: test",
				[]interface{}{"g1"},
			},
		}
	)
	for _, tc := range testCases {
		we := WrapError(rfcError, tc.err, tc.args...)
		if tc.isNil {
			require.Nil(t, we)
		} else {
			require.NotNil(t, we)
			require.Equal(t, tc.expected, we.Error())
			require.True(t, Is(we, rfcError))
		}
	}
}

func TestWrapErrorKeepsMessageAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("source unavailable")
	we := WrapError(ErrSetupReplicationFailed, cause, "g1")
	require.Equal(t,
		"[XC:ErrSetupReplicationFailed]setup replication failed for replication group g1: source unavailable",
		we.Error())
	require.NotContains(t, we.Error(), "%!")
	require.Equal(t, cause, errors.Cause(we))

	// a message without verbs needs no args
	we = WrapError(ErrEtcdAPIError, context.DeadlineExceeded)
	require.Equal(t, "[XC:ErrEtcdAPIError]etcd api call error: context deadline exceeded", we.Error())
	require.True(t, Is(we, ErrEtcdAPIError))
	require.Equal(t, context.DeadlineExceeded, errors.Cause(we))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	require.False(t, IsNotFound(nil))
	require.True(t, IsNotFound(ErrXClusterSafeTimeNotFound.GenWithStackByArgs("ns")))
	require.True(t, IsNotFound(errors.Trace(ErrReplicationGroupNotFound.GenWithStackByArgs("g"))))
	require.False(t, IsNotFound(ErrXClusterInvalidSafeTime.GenWithStackByArgs(0, "ns")))
	require.False(t, IsNotFound(errors.New("not found")))
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryableError(nil))
	require.False(t, IsRetryableError(context.Canceled))
	require.False(t, IsRetryableError(errors.Trace(context.DeadlineExceeded)))
	require.True(t, IsRetryableError(ErrReplicationGroupUpdateConflict.GenWithStackByArgs("g")))
	require.True(t, IsRetryableError(ErrAsyncPoolExited.GenWithStackByArgs()))
	require.False(t, IsRetryableError(ErrXClusterInvalidCheckpoint.GenWithStackByArgs(0)))
}

func TestRFCCode(t *testing.T) {
	t.Parallel()

	code, ok := RFCCode(ErrNotLeader.GenWithStackByArgs(1, 2))
	require.True(t, ok)
	require.Equal(t, errors.RFCErrorCode("XC:ErrNotLeader"), code)

	code, ok = RFCCode(WrapError(ErrXClusterBootstrapFailed, errors.New("remote"), "g1"))
	require.True(t, ok)
	require.Equal(t, errors.RFCErrorCode("XC:ErrXClusterBootstrapFailed"), code)

	_, ok = RFCCode(errors.New("plain"))
	require.False(t, ok)
}
