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

package group

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/pkg/etcd"
	"github.com/xcluster/xtarget/xcluster/model"
)

const (
	groupKeySegment = "/replication-group/"

	updateInitialInterval = 10 * time.Millisecond
	updateMaxInterval     = time.Second
	updateMaxElapsedTime  = 30 * time.Second
)

// EtcdStore is a Store backed by etcd. Updates are compare-and-swap on the
// mod revision of the group key, retried with exponential backoff on conflict.
type EtcdStore struct {
	client    *etcd.Client
	keyPrefix string
}

// NewEtcdStore creates an EtcdStore keeping its keys under keyPrefix.
func NewEtcdStore(client *etcd.Client, keyPrefix string) *EtcdStore {
	return &EtcdStore{client: client, keyPrefix: strings.TrimSuffix(keyPrefix, "/")}
}

func (s *EtcdStore) groupKey(id model.ReplicationGroupID) string {
	return s.keyPrefix + groupKeySegment + string(id)
}

func (s *EtcdStore) decode(kv []byte, revision int64) (*model.ReplicationGroupInfo, error) {
	info := &model.ReplicationGroupInfo{}
	if err := info.Unmarshal(kv); err != nil {
		return nil, err
	}
	info.Revision = revision
	return info, nil
}

// Get implements Reader.
func (s *EtcdStore) Get(
	ctx context.Context, id model.ReplicationGroupID,
) (*model.ReplicationGroupInfo, error) {
	resp, err := s.client.Get(ctx, s.groupKey(id))
	if err != nil {
		return nil, errors.WrapError(errors.ErrEtcdAPIError, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, errors.ErrReplicationGroupNotFound.GenWithStackByArgs(id)
	}
	return s.decode(resp.Kvs[0].Value, resp.Kvs[0].ModRevision)
}

// List implements Reader.
func (s *EtcdStore) List(ctx context.Context) ([]*model.ReplicationGroupInfo, error) {
	resp, err := s.client.Get(ctx, s.keyPrefix+groupKeySegment,
		clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, errors.WrapError(errors.ErrEtcdAPIError, err)
	}
	res := make([]*model.ReplicationGroupInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		info, err := s.decode(kv.Value, kv.ModRevision)
		if err != nil {
			return nil, err
		}
		res = append(res, info)
	}
	return res, nil
}

// Create implements Store.
func (s *EtcdStore) Create(ctx context.Context, info *model.ReplicationGroupInfo) error {
	data, err := info.Marshal()
	if err != nil {
		return err
	}
	key := s.groupKey(info.ID)
	resp, err := s.client.Txn(ctx,
		[]clientv3.Cmp{clientv3.Compare(clientv3.CreateRevision(key), "=", 0)},
		[]clientv3.Op{clientv3.OpPut(key, string(data))}, nil)
	if err != nil {
		return errors.WrapError(errors.ErrEtcdAPIError, err)
	}
	if !resp.Succeeded {
		return errors.ErrReplicationGroupAlreadyExists.GenWithStackByArgs(info.ID)
	}
	return nil
}

// Update implements Store.
func (s *EtcdStore) Update(
	ctx context.Context, id model.ReplicationGroupID, fn UpdateFunc,
) (*model.ReplicationGroupInfo, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = updateInitialInterval
	expBackoff.MaxInterval = updateMaxInterval
	expBackoff.MaxElapsedTime = updateMaxElapsedTime

	var updated *model.ReplicationGroupInfo
	op := func() error {
		info, err := s.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		revision := info.Revision
		if err := fn(info); err != nil {
			return backoff.Permanent(err)
		}
		info.ID = id
		data, err := info.Marshal()
		if err != nil {
			return backoff.Permanent(err)
		}
		key := s.groupKey(id)
		resp, err := s.client.Txn(ctx,
			[]clientv3.Cmp{clientv3.Compare(clientv3.ModRevision(key), "=", revision)},
			[]clientv3.Op{clientv3.OpPut(key, string(data))}, nil)
		if err != nil {
			return backoff.Permanent(errors.WrapError(errors.ErrEtcdAPIError, err))
		}
		if !resp.Succeeded {
			log.Debug("replication group update conflict, retry",
				zap.String("groupID", string(id)), zap.Int64("revision", revision))
			return errors.ErrReplicationGroupUpdateConflict.GenWithStackByArgs(id)
		}
		info.Revision = resp.Header.Revision
		updated = info
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete implements Store.
func (s *EtcdStore) Delete(ctx context.Context, id model.ReplicationGroupID) error {
	resp, err := s.client.Delete(ctx, s.groupKey(id))
	if err != nil {
		return errors.WrapError(errors.ErrEtcdAPIError, err)
	}
	if resp.Deleted == 0 {
		return errors.ErrReplicationGroupNotFound.GenWithStackByArgs(id)
	}
	return nil
}
