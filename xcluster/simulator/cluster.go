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

package simulator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xcluster/xtarget/pkg/clock"
	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/checkpoint"
	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/model"
)

type sourceTable struct {
	info      *model.TableInfo
	createdAt model.Ts
}

// Cluster is an in-process pair of a source and a target cluster. The source
// answers checkpoint calls, the target holds the catalog the setup
// replication resolves consumer tables from.
type Cluster struct {
	clock   clock.Clock
	latency time.Duration

	mu           sync.Mutex
	sourceTables map[model.TableID]*sourceTable
	targetTables map[model.TableID]*model.TableInfo
	failure      error

	openClients atomic.Int64
}

var (
	_ checkpoint.ClientFactory = (*Cluster)(nil)
	_ group.TableResolver      = (*Cluster)(nil)
)

// NewCluster creates an empty cluster pair. Remote calls answer after latency.
func NewCluster(clk clock.Clock, latency time.Duration) *Cluster {
	return &Cluster{
		clock:        clk,
		latency:      latency,
		sourceTables: make(map[model.TableID]*sourceTable),
		targetTables: make(map[model.TableID]*model.TableInfo),
	}
}

func newTableInfo(namespaceID model.NamespaceID, namespaceName, schemaName, name string) *model.TableInfo {
	return &model.TableInfo{
		ID:            model.TableID(strings.ReplaceAll(uuid.New().String(), "-", "")),
		NamespaceID:   namespaceID,
		NamespaceName: namespaceName,
		SchemaName:    schemaName,
		Name:          name,
	}
}

// CreateSourceTable creates a table on the source cluster.
func (c *Cluster) CreateSourceTable(
	namespaceID model.NamespaceID, namespaceName, schemaName, name string,
) *model.TableInfo {
	info := newTableInfo(namespaceID, namespaceName, schemaName, name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceTables[info.ID] = &sourceTable{info: info, createdAt: model.NewTs(c.clock.Now())}
	return info
}

// CreateTargetTable creates a table on the target cluster. indexedTableID is
// empty for base tables.
func (c *Cluster) CreateTargetTable(
	namespaceID model.NamespaceID, namespaceName, schemaName, name string, indexedTableID model.TableID,
) *model.TableInfo {
	info := newTableInfo(namespaceID, namespaceName, schemaName, name)
	info.IndexedTableID = indexedTableID
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetTables[info.ID] = info
	return info
}

// TargetTable returns a table of the target cluster.
func (c *Cluster) TargetTable(id model.TableID) (*model.TableInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.targetTables[id]
	return info, ok
}

// InjectFailure makes every following remote call fail with err. A nil err
// clears the failure.
func (c *Cluster) InjectFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// OpenClients returns the number of clients not closed yet.
func (c *Cluster) OpenClients() int64 {
	return c.openClients.Load()
}

// NewClient implements checkpoint.ClientFactory.
func (c *Cluster) NewClient(_ context.Context, masterAddrs []string) (checkpoint.RemoteClient, error) {
	c.openClients.Inc()
	log.Debug("source client opened", zap.Strings("masterAddrs", masterAddrs))
	return &client{cluster: c, addrs: strings.Join(masterAddrs, ",")}, nil
}

// ResolveConsumerTable implements group.TableResolver. A producer table maps
// to the target table with the same schema and name in the namespace it
// replicates into.
func (c *Cluster) ResolveConsumerTable(
	_ context.Context, info *model.ReplicationGroupInfo, producerTableID model.TableID,
) (model.TableID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	source, ok := c.sourceTables[producerTableID]
	if !ok {
		return "", cerrors.ErrSourceTableNotFound.GenWithStackByArgs(
			"unknown", producerTableID, info.ID)
	}
	for _, target := range c.targetTables {
		if target.SchemaName != source.info.SchemaName || target.Name != source.info.Name {
			continue
		}
		if info.Scope() == model.ScopeWholeDatabase {
			if producer, err := info.GetProducerNamespaceID(target.NamespaceID); err == nil &&
				producer == source.info.NamespaceID {
				return target.ID, nil
			}
			continue
		}
		if target.NamespaceName == source.info.NamespaceName {
			return target.ID, nil
		}
	}
	return "", cerrors.ErrSourceTableNotFound.GenWithStackByArgs(
		source.info.SchemaName, source.info.Name, "target of "+string(info.ID))
}

func (c *Cluster) lookup(
	match func(t *model.TableInfo) bool, schemaNames, tableNames []string,
) ([]*sourceTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return nil, c.failure
	}
	res := make([]*sourceTable, 0, len(tableNames))
	for i, name := range tableNames {
		var found *sourceTable
		for _, t := range c.sourceTables {
			if match(t.info) && t.info.SchemaName == schemaNames[i] && t.info.Name == name {
				found = t
				break
			}
		}
		if found == nil {
			return nil, cerrors.ErrSourceTableNotFound.GenWithStackByArgs(schemaNames[i], name, "source")
		}
		res = append(res, found)
	}
	return res, nil
}

type client struct {
	cluster *Cluster
	addrs   string
	closed  atomic.Bool
}

func (cli *client) answer(
	ctx context.Context, lookup func() ([]*sourceTable, error), ts func([]*sourceTable) model.Ts, cb checkpoint.Callback,
) error {
	if cli.closed.Load() {
		return cerrors.ErrRemoteClientClosed.GenWithStackByArgs(cli.addrs)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cli.cluster.clock.AfterFunc(cli.cluster.latency, func() {
		tables, err := lookup()
		if err != nil {
			cb(checkpoint.Result{}, err)
			return
		}
		res := checkpoint.Result{CheckpointTs: ts(tables)}
		for _, t := range tables {
			res.SourceTableIDs = append(res.SourceTableIDs, t.info.ID)
			res.CheckpointIDs = append(res.CheckpointIDs, uuid.New().String())
		}
		cb(res, nil)
	})
	return nil
}

// BootstrapProducer checkpoints the tables now.
func (cli *client) BootstrapProducer(
	ctx context.Context, namespaceName string, schemaNames, tableNames []string, cb checkpoint.Callback,
) error {
	return cli.answer(ctx, func() ([]*sourceTable, error) {
		return cli.cluster.lookup(func(t *model.TableInfo) bool {
			return t.NamespaceName == namespaceName
		}, schemaNames, tableNames)
	}, func([]*sourceTable) model.Ts {
		return model.NewTs(cli.cluster.clock.Now())
	}, cb)
}

// GetTableCheckpointInfos returns the checkpoints taken when the tables were
// created on the source.
func (cli *client) GetTableCheckpointInfos(
	ctx context.Context, _ model.ReplicationGroupID, producerNamespaceID model.NamespaceID,
	tableNames, schemaNames []string, cb checkpoint.Callback,
) error {
	return cli.answer(ctx, func() ([]*sourceTable, error) {
		return cli.cluster.lookup(func(t *model.TableInfo) bool {
			return t.NamespaceID == producerNamespaceID
		}, schemaNames, tableNames)
	}, func(tables []*sourceTable) model.Ts {
		var ts model.Ts
		for _, t := range tables {
			ts = model.MaxTsOf(ts, t.createdAt)
		}
		return ts
	}, cb)
}

func (cli *client) Close() error {
	if cli.closed.Swap(true) {
		return cerrors.ErrRemoteClientClosed.GenWithStackByArgs(cli.addrs)
	}
	cli.cluster.openClients.Dec()
	return nil
}
