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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/pkg/workerpool"
	"github.com/xcluster/xtarget/xcluster/model"
)

const defaultSetupTimeout = 30 * time.Second

// OperationResult is the state of an asynchronous operation. Err is only
// meaningful when Done is true.
type OperationResult struct {
	Done bool
	Err  error
}

// SetupPoller answers whether a setup replication operation has finished.
// It never blocks on the operation itself.
type SetupPoller interface {
	// IsSetupDone reports the state of the operation setupID started for the
	// group. A finished operation is reported once and forgotten afterwards.
	IsSetupDone(
		ctx context.Context, groupID model.ReplicationGroupID, setupID string,
	) (OperationResult, error)
}

// TableResolver finds the consumer table a producer table replicates into.
type TableResolver interface {
	ResolveConsumerTable(
		ctx context.Context, info *model.ReplicationGroupInfo, producerTableID model.TableID,
	) (model.TableID, error)
}

// TableResolverFunc adapts a function to TableResolver.
type TableResolverFunc func(
	ctx context.Context, info *model.ReplicationGroupInfo, producerTableID model.TableID,
) (model.TableID, error)

// ResolveConsumerTable implements TableResolver.
func (f TableResolverFunc) ResolveConsumerTable(
	ctx context.Context, info *model.ReplicationGroupInfo, producerTableID model.TableID,
) (model.TableID, error) {
	return f(ctx, info, producerTableID)
}

// setupOperation is one setup replication run, covering the tables of a
// single mutation.
type setupOperation struct {
	groupID model.ReplicationGroupID
	tables  map[model.TableID]struct{}
	done    bool
	err     error
}

// SetupTracker runs setup replication operations on a worker pool and
// implements SetupPoller. A successful setup moves the pending tables of a
// group into its validated tables. Operations of one group are tracked apart,
// so a later mutation never hides the result of an earlier one.
type SetupTracker struct {
	store    Store
	resolver TableResolver
	pool     workerpool.AsyncPool
	timeout  time.Duration

	mu  sync.Mutex
	ops map[string]*setupOperation
}

// NewSetupTracker creates a SetupTracker.
func NewSetupTracker(
	store Store, resolver TableResolver, pool workerpool.AsyncPool,
) *SetupTracker {
	return &SetupTracker{
		store:    store,
		resolver: resolver,
		pool:     pool,
		timeout:  defaultSetupTimeout,
		ops:      make(map[string]*setupOperation),
	}
}

// Start begins a setup replication for the given pending tables of the group
// and returns the id to poll it with.
func (t *SetupTracker) Start(
	ctx context.Context, groupID model.ReplicationGroupID, tables []model.TableID,
) (string, error) {
	setupID := uuid.New().String()
	op := &setupOperation{
		groupID: groupID,
		tables:  make(map[model.TableID]struct{}, len(tables)),
	}
	for _, id := range tables {
		op.tables[id] = struct{}{}
	}
	t.mu.Lock()
	t.ops[setupID] = op
	t.mu.Unlock()

	setupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	err := t.pool.Go(ctx, func() {
		defer cancel()
		t.finish(setupID, t.runSetup(setupCtx, op))
	})
	if err != nil {
		cancel()
		t.mu.Lock()
		delete(t.ops, setupID)
		t.mu.Unlock()
		return "", errors.Trace(err)
	}
	log.Debug("setup replication started",
		zap.String("groupID", string(groupID)), zap.String("setupID", setupID),
		zap.Any("producerTableIDs", tables))
	return setupID, nil
}

func (t *SetupTracker) finish(setupID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op := t.ops[setupID]
	op.done = true
	op.err = err
	if err != nil {
		log.Warn("setup replication failed",
			zap.String("groupID", string(op.groupID)), zap.String("setupID", setupID), zap.Error(err))
	}
}

// IsSetupDone implements SetupPoller.
func (t *SetupTracker) IsSetupDone(
	_ context.Context, groupID model.ReplicationGroupID, setupID string,
) (OperationResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[setupID]
	if !ok || op.groupID != groupID {
		return OperationResult{}, cerrors.ErrSetupReplicationNotFound.GenWithStackByArgs(groupID)
	}
	if !op.done {
		return OperationResult{}, nil
	}
	delete(t.ops, setupID)
	return OperationResult{Done: true, Err: op.err}, nil
}

func (t *SetupTracker) runSetup(ctx context.Context, op *setupOperation) error {
	id := op.groupID
	info, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	resolved := make(map[model.TableID]model.TableID, len(op.tables))
	var resolveErr error
	for _, pending := range info.PendingAdds {
		if _, ok := op.tables[pending.ProducerTableID]; !ok {
			continue
		}
		consumer, err := t.resolver.ResolveConsumerTable(ctx, info, pending.ProducerTableID)
		if err != nil {
			resolveErr = multierr.Append(resolveErr, err)
			continue
		}
		resolved[pending.ProducerTableID] = consumer
	}

	_, err = t.store.Update(ctx, id, func(info *model.ReplicationGroupInfo) error {
		if info.State.IsTerminal() {
			return cerrors.ErrReplicationGroupNotActive.GenWithStackByArgs(info.ID, info.State)
		}
		remaining := info.PendingAdds[:0]
		for _, pending := range info.PendingAdds {
			if _, ok := op.tables[pending.ProducerTableID]; !ok {
				// Owned by another operation.
				remaining = append(remaining, pending)
				continue
			}
			consumer, ok := resolved[pending.ProducerTableID]
			if !ok {
				// Failed tables are dropped.
				continue
			}
			info.ProducerTables = append(info.ProducerTables, pending.ProducerTableID)
			if info.ValidatedTables == nil {
				info.ValidatedTables = make(map[model.TableID]model.TableID)
			}
			info.ValidatedTables[pending.ProducerTableID] = consumer
		}
		info.PendingAdds = remaining
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	if resolveErr != nil {
		return cerrors.WrapError(cerrors.ErrSetupReplicationFailed, resolveErr, id)
	}
	log.Info("setup replication finished",
		zap.String("groupID", string(id)), zap.Int("tableCount", len(resolved)))
	return nil
}
