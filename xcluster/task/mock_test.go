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

package task

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/model"
	"github.com/xcluster/xtarget/xcluster/safetime"
)

type mockGroupReader struct {
	mock.Mock
}

func (m *mockGroupReader) Get(
	ctx context.Context, id model.ReplicationGroupID,
) (*model.ReplicationGroupInfo, error) {
	args := m.Called(ctx, id)
	info, _ := args.Get(0).(*model.ReplicationGroupInfo)
	return info, args.Error(1)
}

func (m *mockGroupReader) List(ctx context.Context) ([]*model.ReplicationGroupInfo, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]*model.ReplicationGroupInfo)
	return infos, args.Error(1)
}

type mockMutator struct {
	mock.Mock
}

func (m *mockMutator) AlterReplicationGroup(
	ctx context.Context, req *group.AlterRequest,
) (*group.AlterResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*group.AlterResponse)
	return resp, args.Error(1)
}

type mockSetupPoller struct {
	mock.Mock
}

func (m *mockSetupPoller) IsSetupDone(
	ctx context.Context, groupID model.ReplicationGroupID, setupID string,
) (group.OperationResult, error) {
	args := m.Called(ctx, groupID, setupID)
	return args.Get(0).(group.OperationResult), args.Error(1)
}

type mockSafeTime struct {
	mock.Mock
}

func (m *mockSafeTime) Refresh(ctx context.Context, epoch model.LeaderEpoch) error {
	args := m.Called(ctx, epoch)
	return args.Error(0)
}

func (m *mockSafeTime) GetSafeTime(
	ctx context.Context, epoch model.LeaderEpoch, namespaceID model.NamespaceID, filter safetime.Filter,
) (model.Ts, error) {
	args := m.Called(ctx, epoch, namespaceID, filter)
	return args.Get(0).(model.Ts), args.Error(1)
}

type testKnobs struct {
	failBootstrap bool
	abandon       bool
}

func (k *testKnobs) FailBootstrap() bool { return k.failBootstrap }

func (k *testKnobs) AbandonBeforeBootstrap() bool { return k.abandon }
