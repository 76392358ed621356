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
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	v3rpc "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientV3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/pkg/retry"
)

// etcd operation names
const (
	EtcdPut = "Put"
	EtcdGet = "Get"
	EtcdTxn = "Txn"
	EtcdDel = "Del"
)

const (
	backoffBaseDelay = 500 * time.Millisecond
	backoffMaxDelay  = 60 * time.Second
	maxTries         = 12
	// etcdClientTimeoutDuration represents the timeout duration for
	// etcd client to execute a remote call
	etcdClientTimeoutDuration = 30 * time.Second
)

// Client is a simple wrapper that adds retry to etcd RPC
type Client struct {
	cli     *clientV3.Client
	metrics map[string]prometheus.Counter
}

// Wrap warps a clientV3.Client that provides etcd APIs required by the group store.
func Wrap(cli *clientV3.Client, metrics map[string]prometheus.Counter) *Client {
	return &Client{cli: cli, metrics: metrics}
}

// Unwrap returns a clientV3.Client
func (c *Client) Unwrap() *clientV3.Client {
	return c.cli
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return errors.Trace(c.cli.Close())
}

func retryRPC(rpcName string, metric prometheus.Counter, etcdRPC func() error) error {
	// Some rpc could fail due to etcd errors, like "proposal dropped".
	// Retry at least two election timeout to handle leader changes.
	return retry.Do(context.Background(), func() error {
		err := etcdRPC()
		if err != nil && errors.Cause(err) != context.Canceled {
			log.Warn("etcd RPC failed", zap.String("RPC", rpcName), zap.Error(err))
		}
		if metric != nil {
			metric.Inc()
		}
		return err
	}, retry.WithBaseDelay(backoffBaseDelay),
		retry.WithMaxDelay(backoffMaxDelay),
		retry.WithMaxTries(maxTries),
		retry.WithIsRetryableErr(isRetryableError(rpcName)))
}

// Put delegates request to clientV3.KV.Put
func (c *Client) Put(
	ctx context.Context, key, val string, opts ...clientV3.OpOption,
) (resp *clientV3.PutResponse, err error) {
	putCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	err = retryRPC(EtcdPut, c.metrics[EtcdPut], func() error {
		var inErr error
		resp, inErr = c.cli.Put(putCtx, key, val, opts...)
		return inErr
	})
	return
}

// Get delegates request to clientV3.KV.Get
func (c *Client) Get(
	ctx context.Context, key string, opts ...clientV3.OpOption,
) (resp *clientV3.GetResponse, err error) {
	getCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	err = retryRPC(EtcdGet, c.metrics[EtcdGet], func() error {
		var inErr error
		resp, inErr = c.cli.Get(getCtx, key, opts...)
		return inErr
	})
	return
}

// Delete delegates request to clientV3.KV.Delete
func (c *Client) Delete(
	ctx context.Context, key string, opts ...clientV3.OpOption,
) (resp *clientV3.DeleteResponse, err error) {
	if metric, ok := c.metrics[EtcdDel]; ok {
		metric.Inc()
	}
	delCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	// We don't retry on delete operation. It's dangerous.
	return c.cli.Delete(delCtx, key, opts...)
}

// Txn delegates request to clientV3.KV.Txn. The error returned can only be a non-retryable error,
// such as context.Canceled, context.DeadlineExceeded, errors.ErrReachMaxTry.
func (c *Client) Txn(
	ctx context.Context, cmps []clientV3.Cmp, opsThen, opsElse []clientV3.Op,
) (resp *clientV3.TxnResponse, err error) {
	txnCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	err = retryRPC(EtcdTxn, c.metrics[EtcdTxn], func() error {
		var inErr error
		resp, inErr = c.cli.Txn(txnCtx).If(cmps...).Then(opsThen...).Else(opsElse...).Commit()
		return inErr
	})
	return
}

func isRetryableError(rpcName string) retry.IsRetryableErr {
	return func(err error) bool {
		switch errors.Cause(err) {
		case context.Canceled, context.DeadlineExceeded:
			return false
		}
		if rpcName == EtcdTxn {
			return IsRetryableEtcdError(err)
		}
		return true
	}
}

// IsRetryableEtcdError reports whether a txn may be re-sent safely: only
// errors that guarantee the txn was not applied qualify.
func IsRetryableEtcdError(err error) bool {
	etcdErr := errors.Cause(err)
	switch etcdErr {
	case v3rpc.ErrNoLeader, v3rpc.ErrLeaderChanged, v3rpc.ErrNotCapable, v3rpc.ErrStopped, v3rpc.ErrTimeout,
		v3rpc.ErrTimeoutDueToLeaderFail, v3rpc.ErrGRPCTimeoutDueToConnectionLost, v3rpc.ErrUnhealthy:
		return true
	}
	if s, ok := status.FromError(etcdErr); ok && s.Code() == codes.Unavailable {
		return true
	}
	return cerrors.Is(err, cerrors.ErrEtcdTryAgain)
}
