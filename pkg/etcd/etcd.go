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
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pingcap/errors"
	"github.com/phayes/freeport"
	"go.etcd.io/etcd/client/pkg/v3/logutil"
	clientV3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
)

// SetupEmbedEtcd starts an embed etcd server
func SetupEmbedEtcd(dir string) (clientURL *url.URL, e *embed.Etcd, err error) {
	cfg := embed.NewConfig()
	cfg.Dir = dir

	ports, err := freeport.GetFreePorts(2)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	urls := make([]*url.URL, 0, len(ports))
	for _, port := range ports {
		u, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		urls = append(urls, u)
	}
	cfg.ListenPeerUrls = []url.URL{*urls[0]}
	cfg.AdvertisePeerUrls = []url.URL{*urls[0]}
	cfg.ListenClientUrls = []url.URL{*urls[1]}
	cfg.AdvertiseClientUrls = []url.URL{*urls[1]}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)
	cfg.Logger = "zap"
	cfg.LogLevel = "error"
	clientURL = urls[1]

	e, err = embed.StartEtcd(cfg)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(60 * time.Second):
		e.Server.Stop() // trigger a shutdown
		err = errors.New("server took too long to start")
	}
	return clientURL, e, err
}

// NewClient dials the endpoints and wraps the client with retry and metrics.
func NewClient(ctx context.Context, endpoints []string, dialTimeout time.Duration) (*Client, error) {
	logConfig := logutil.DefaultZapLoggerConfig
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	cli, err := clientV3.New(clientV3.Config{
		Context:     ctx,
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		LogConfig:   &logConfig,
	})
	if err != nil {
		return nil, cerrors.WrapError(cerrors.ErrEtcdAPIError, err)
	}
	return Wrap(cli, NewRequestCounters()), nil
}
