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

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
)

func TestDoDefaultTries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.New("conflict")
	}, WithBaseDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond))
	require.True(t, cerrors.Is(err, cerrors.ErrReachMaxTry))
	require.Equal(t, "conflict", errors.Cause(err).Error())
	require.Equal(t, defaultMaxTries, calls)
}

func TestDoStopsOnSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls == 2 {
			return nil
		}
		return errors.New("conflict")
	}, WithMaxTries(3), WithBaseDelay(time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDoNotRetryable(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return errors.Annotate(context.Canceled, "put")
	}, WithMaxTries(3), WithIsRetryableErr(func(err error) bool {
		return errors.Cause(err) != context.Canceled
	}))
	require.Equal(t, context.Canceled, errors.Cause(err))
	require.Equal(t, 1, calls)
}

func TestDoCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	err := Do(ctx, func() error {
		calls++
		return errors.New("conflict")
	}, WithMaxTries(1000), WithBaseDelay(2*time.Millisecond), WithMaxDelay(10*time.Millisecond))
	require.Equal(t, context.DeadlineExceeded, errors.Cause(err))
	require.GreaterOrEqual(t, calls, 1)
	require.Less(t, calls, 1000)
}

func TestDoCanceledBeforeFirstTry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, func() error {
		calls++
		return nil
	})
	require.Equal(t, context.Canceled, errors.Cause(err))
	require.Equal(t, 0, calls)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	base, maxDelay := 20*time.Millisecond, time.Second
	for try := 1; try < 80; try++ {
		d := backoff(base, maxDelay, try)
		require.LessOrEqual(t, d, maxDelay, try)
		require.Greater(t, d, time.Duration(0), try)
	}
	// the first delay stays within the upper half of the base delay
	for i := 0; i < 100; i++ {
		d := backoff(base, maxDelay, 1)
		require.GreaterOrEqual(t, d, base/2)
		require.LessOrEqual(t, d, base)
	}
	require.Equal(t, time.Nanosecond, backoff(time.Nanosecond, time.Nanosecond, 3))

	o := newOptions(WithBaseDelay(time.Second), WithMaxDelay(time.Millisecond), WithMaxTries(0))
	require.Equal(t, time.Second, o.maxDelay)
	require.Equal(t, defaultMaxTries, o.maxTries)
}
