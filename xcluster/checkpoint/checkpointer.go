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

package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

// Checkpointer checkpoints a single table on the source cluster in the way
// the group's scope requires, and decides the checkpoint time the target
// has to wait for.
type Checkpointer interface {
	Scope() model.ScopeMode
	// Checkpoint starts an asynchronous checkpoint of the table. cb is not
	// invoked when an error is returned.
	Checkpoint(ctx context.Context, table *model.TableInfo, cb Callback) error
	// CheckpointTs returns the time safe time has to pass for the table.
	CheckpointTs(res Result, now time.Time) (model.Ts, error)
}

// ForGroup returns the Checkpointer matching the scope of the group. The
// scope is captured once, later changes to the group are not observed.
func ForGroup(info *model.ReplicationGroupInfo, cache *ClientCache) Checkpointer {
	if info.Scope() == model.ScopeWholeDatabase {
		return &wholeDatabase{info: info.Clone(), factory: cache.Factory()}
	}
	return &explicitTableList{info: info.Clone(), cache: cache}
}

// explicitTableList bootstraps the table through the shared legacy client.
type explicitTableList struct {
	info  *model.ReplicationGroupInfo
	cache *ClientCache
}

func (c *explicitTableList) Scope() model.ScopeMode {
	return model.ScopeExplicitTableList
}

func (c *explicitTableList) Checkpoint(
	ctx context.Context, table *model.TableInfo, cb Callback,
) error {
	cli, err := c.cache.GetOrCreate(ctx, c.info)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(cli.BootstrapProducer(
		ctx, table.NamespaceName, []string{table.SchemaName}, []string{table.Name}, cb))
}

// CheckpointTs returns the bootstrap time, which must be a real point in time.
func (c *explicitTableList) CheckpointTs(res Result, _ time.Time) (model.Ts, error) {
	if res.CheckpointTs.IsSpecial() {
		return model.InvalidTs, cerrors.ErrXClusterInvalidCheckpoint.GenWithStackByArgs(res.CheckpointTs)
	}
	return res.CheckpointTs, nil
}

// wholeDatabase reads the checkpoint a database scoped group took when the
// table was created on the source, through a client owned by the call.
type wholeDatabase struct {
	info    *model.ReplicationGroupInfo
	factory ClientFactory
}

func (c *wholeDatabase) Scope() model.ScopeMode {
	return model.ScopeWholeDatabase
}

func (c *wholeDatabase) Checkpoint(
	ctx context.Context, table *model.TableInfo, cb Callback,
) error {
	producerNamespaceID, err := c.info.GetProducerNamespaceID(table.NamespaceID)
	if err != nil {
		return err
	}
	cli, err := c.factory.NewClient(ctx, c.info.SortedMasterAddrs())
	if err != nil {
		return errors.Trace(err)
	}
	owned := &ownedClient{RemoteClient: cli, groupID: c.info.ID}
	err = owned.GetTableCheckpointInfos(ctx, c.info.ID, producerNamespaceID,
		[]string{table.Name}, []string{table.SchemaName},
		func(res Result, err error) {
			owned.release()
			cb(res, err)
		})
	if err != nil {
		owned.release()
		return errors.Trace(err)
	}
	return nil
}

// CheckpointTs returns now. The source checkpoints a table of a database
// scoped group when it is created, and the target applies the DDL only after
// safe time passed the source commit, which already covers the source
// backfill. Any current time is therefore later than the real checkpoint.
func (c *wholeDatabase) CheckpointTs(_ Result, now time.Time) (model.Ts, error) {
	return model.NewTs(now), nil
}

// ownedClient closes the wrapped client exactly once.
type ownedClient struct {
	RemoteClient
	groupID model.ReplicationGroupID
	once    sync.Once
}

func (o *ownedClient) release() {
	o.once.Do(func() {
		if err := o.Close(); err != nil {
			log.Warn("close remote client failed",
				zap.String("groupID", string(o.groupID)), zap.Error(err))
		}
	})
}
