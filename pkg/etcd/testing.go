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

package etcd

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/client/pkg/v3/logutil"
	clientV3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Tester is for ut tests
type Tester struct {
	etcd      *embed.Etcd
	ClientURL *url.URL
	Client    *Client
}

// SetUpTest setup etcd tester
func (s *Tester) SetUpTest(t *testing.T) {
	var err error
	s.ClientURL, s.etcd, err = SetupEmbedEtcd(t.TempDir())
	require.NoError(t, err)
	logConfig := logutil.DefaultZapLoggerConfig
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	cli, err := clientV3.New(clientV3.Config{
		Endpoints:   []string{s.ClientURL.String()},
		DialTimeout: 3 * time.Second,
		LogConfig:   &logConfig,
	})
	require.NoError(t, err)
	s.Client = Wrap(cli, NewRequestCounters())
}

// TearDownTest teardown etcd
func (s *Tester) TearDownTest(t *testing.T) {
	_ = s.Client.Close() //nolint:errcheck
	s.etcd.Close()
logEtcdError:
	for {
		select {
		case err, ok := <-s.etcd.Err():
			if !ok {
				break logEtcdError
			}
			t.Logf("etcd server error: %v", err)
		default:
			break logEtcdError
		}
	}
}
