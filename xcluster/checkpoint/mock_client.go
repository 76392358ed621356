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

	"github.com/stretchr/testify/mock"

	"github.com/xcluster/xtarget/xcluster/model"
)

var (
	_ RemoteClient  = &MockClient{}
	_ ClientFactory = &MockClientFactory{}
)

// MockClient is a mock implementation of RemoteClient interface
type MockClient struct {
	mock.Mock
}

// BootstrapProducer implements Client.BootstrapProducer
func (m *MockClient) BootstrapProducer(
	ctx context.Context, namespaceName string, schemaNames, tableNames []string, cb Callback,
) error {
	args := m.Called(ctx, namespaceName, schemaNames, tableNames, cb)
	return args.Error(0)
}

// GetTableCheckpointInfos implements Client.GetTableCheckpointInfos
func (m *MockClient) GetTableCheckpointInfos(
	ctx context.Context, groupID model.ReplicationGroupID, producerNamespaceID model.NamespaceID,
	tableNames, schemaNames []string, cb Callback,
) error {
	args := m.Called(ctx, groupID, producerNamespaceID, tableNames, schemaNames, cb)
	return args.Error(0)
}

// Close implements io.Closer
func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockClientFactory is a mock implementation of ClientFactory interface
type MockClientFactory struct {
	mock.Mock
}

// NewClient implements ClientFactory.NewClient
func (m *MockClientFactory) NewClient(ctx context.Context, masterAddrs []string) (RemoteClient, error) {
	args := m.Called(ctx, masterAddrs)
	cli, _ := args.Get(0).(RemoteClient)
	return cli, args.Error(1)
}

// InvokeCallback returns a mock.Run function that passes res and err to the
// Callback found at argument position idx.
func InvokeCallback(idx int, res Result, err error) func(mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(idx).(Callback)(res, err)
	}
}
