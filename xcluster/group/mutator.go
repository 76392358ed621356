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
	"fmt"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

// AlterRequest adds producer tables to a replication group. The two lists are
// parallel: the i-th bootstrap id belongs to the i-th producer table.
type AlterRequest struct {
	GroupID               model.ReplicationGroupID
	ProducerTableIDsToAdd []model.TableID
	BootstrapIDsToAdd     []string
}

func (r *AlterRequest) validate() error {
	if r.GroupID == "" {
		return cerrors.ErrInvalidAlterRequest.GenWithStackByArgs("empty replication group id")
	}
	if len(r.ProducerTableIDsToAdd) == 0 {
		return cerrors.ErrInvalidAlterRequest.GenWithStackByArgs("no table to add")
	}
	if len(r.ProducerTableIDsToAdd) != len(r.BootstrapIDsToAdd) {
		return cerrors.ErrInvalidAlterRequest.GenWithStackByArgs(
			fmt.Sprintf("%d tables with %d bootstrap ids",
				len(r.ProducerTableIDsToAdd), len(r.BootstrapIDsToAdd)))
	}
	return nil
}

// AlterResponse carries an application level failure, if any. On success
// SetupID names the setup replication operation to poll.
type AlterResponse struct {
	Error   *model.AppError
	SetupID string
}

// Mutator applies membership changes to replication groups.
type Mutator interface {
	// AlterReplicationGroup atomically appends the tables to the group's
	// pending adds and starts the setup replication for them. A transport
	// failure is returned as error, an application failure is embedded in
	// the response.
	AlterReplicationGroup(ctx context.Context, req *AlterRequest) (*AlterResponse, error)
}

// StoreMutator is a Mutator persisting through a Store.
type StoreMutator struct {
	store Store
	setup *SetupTracker
}

// NewStoreMutator creates a StoreMutator.
func NewStoreMutator(store Store, setup *SetupTracker) *StoreMutator {
	return &StoreMutator{store: store, setup: setup}
}

// AlterReplicationGroup implements Mutator.
func (m *StoreMutator) AlterReplicationGroup(
	ctx context.Context, req *AlterRequest,
) (*AlterResponse, error) {
	if err := req.validate(); err != nil {
		return &AlterResponse{Error: model.NewAppError(err)}, nil
	}

	var appErr error
	_, err := m.store.Update(ctx, req.GroupID, func(info *model.ReplicationGroupInfo) error {
		if info.State != model.GroupStateActive {
			appErr = cerrors.ErrReplicationGroupNotActive.GenWithStackByArgs(info.ID, info.State)
			return appErr
		}
		for i, tableID := range req.ProducerTableIDsToAdd {
			if info.HasProducerTable(tableID) {
				appErr = cerrors.ErrTableAlreadyInReplicationGroup.GenWithStackByArgs(tableID, info.ID)
				return appErr
			}
			info.PendingAdds = append(info.PendingAdds, model.PendingTable{
				ProducerTableID: tableID,
				BootstrapID:     req.BootstrapIDsToAdd[i],
			})
		}
		return nil
	})
	if appErr == nil && cerrors.Is(err, cerrors.ErrReplicationGroupNotFound) {
		appErr = err
	}
	if appErr != nil {
		log.Info("alter replication group rejected",
			zap.String("groupID", string(req.GroupID)), zap.Error(appErr))
		return &AlterResponse{Error: model.NewAppError(appErr)}, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	log.Info("tables appended to replication group",
		zap.String("groupID", string(req.GroupID)),
		zap.Any("producerTableIDs", req.ProducerTableIDsToAdd),
		zap.Strings("bootstrapIDs", req.BootstrapIDsToAdd))

	setupID, err := m.setup.Start(ctx, req.GroupID, req.ProducerTableIDsToAdd)
	if err != nil {
		// Nothing would ever move the tables out of pending, and a retry
		// would be rejected as a duplicate.
		if rbErr := m.rollbackPendingAdds(context.WithoutCancel(ctx), req); rbErr != nil {
			err = multierr.Append(err, rbErr)
		}
		return nil, errors.Trace(err)
	}
	return &AlterResponse{SetupID: setupID}, nil
}

func (m *StoreMutator) rollbackPendingAdds(ctx context.Context, req *AlterRequest) error {
	added := make(map[model.PendingTable]struct{}, len(req.ProducerTableIDsToAdd))
	for i, tableID := range req.ProducerTableIDsToAdd {
		added[model.PendingTable{ProducerTableID: tableID, BootstrapID: req.BootstrapIDsToAdd[i]}] = struct{}{}
	}
	_, err := m.store.Update(ctx, req.GroupID, func(info *model.ReplicationGroupInfo) error {
		remaining := info.PendingAdds[:0]
		for _, pending := range info.PendingAdds {
			if _, ok := added[pending]; !ok {
				remaining = append(remaining, pending)
			}
		}
		info.PendingAdds = remaining
		return nil
	})
	if err != nil {
		log.Warn("failed to roll back pending tables",
			zap.String("groupID", string(req.GroupID)), zap.Error(err))
		return errors.Trace(err)
	}
	log.Info("pending tables rolled back",
		zap.String("groupID", string(req.GroupID)),
		zap.Any("producerTableIDs", req.ProducerTableIDsToAdd))
	return nil
}
