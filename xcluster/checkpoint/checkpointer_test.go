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
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

var testTable = &model.TableInfo{
	ID:            "c2",
	NamespaceID:   "ns-t",
	NamespaceName: "db",
	SchemaName:    "public",
	Name:          "t2",
}

func explicitGroup() *model.ReplicationGroupInfo {
	return &model.ReplicationGroupInfo{
		ID:                "g1",
		SourceMasterAddrs: []string{"b:7100", "a:7100"},
		State:             model.GroupStateActive,
	}
}

func wholeDatabaseGroup() *model.ReplicationGroupInfo {
	info := explicitGroup()
	info.DBScoped = &model.DBScopedInfo{Namespaces: []model.NamespacePair{
		{SourceNamespaceID: "ns-s", TargetNamespaceID: "ns-t"},
	}}
	return info
}

func TestResultValidate(t *testing.T) {
	t.Parallel()

	res := Result{SourceTableIDs: []model.TableID{"p2"}, CheckpointIDs: []string{"b2"}}
	require.NoError(t, res.Validate())

	for _, res := range []Result{
		{},
		{SourceTableIDs: []model.TableID{"p2"}},
		{SourceTableIDs: []model.TableID{"p2", "p3"}, CheckpointIDs: []string{"b2", "b3"}},
	} {
		err := res.Validate()
		require.True(t, cerrors.Is(err, cerrors.ErrXClusterUnexpectedCheckpointResult))
	}
}

func TestExplicitTableList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cli := &MockClient{}
	factory := &MockClientFactory{}
	factory.On("NewClient", mock.Anything, []string{"a:7100", "b:7100"}).Return(cli, nil).Once()
	cache := NewClientCache(factory)

	ts := model.NewTs(time.UnixMilli(1700000000000))
	res := Result{SourceTableIDs: []model.TableID{"p2"}, CheckpointIDs: []string{"b2"}, CheckpointTs: ts}
	cli.On("BootstrapProducer", mock.Anything, "db", []string{"public"}, []string{"t2"}, mock.Anything).
		Return(nil).Run(InvokeCallback(4, res, nil)).Twice()

	cp := ForGroup(explicitGroup(), cache)
	require.Equal(t, model.ScopeExplicitTableList, cp.Scope())
	for i := 0; i < 2; i++ {
		var got Result
		require.NoError(t, cp.Checkpoint(ctx, testTable, func(r Result, err error) {
			require.NoError(t, err)
			got = r
		}))
		require.Equal(t, res, got)
	}

	checkpointTs, err := cp.CheckpointTs(res, time.Now())
	require.NoError(t, err)
	require.Equal(t, ts, checkpointTs)

	for _, special := range []model.Ts{model.MinTs, model.MaxTs, model.InvalidTs} {
		res.CheckpointTs = special
		_, err = cp.CheckpointTs(res, time.Now())
		require.True(t, cerrors.Is(err, cerrors.ErrXClusterInvalidCheckpoint))
	}

	cli.On("Close").Return(nil).Once()
	require.NoError(t, cache.Close())
	factory.AssertExpectations(t)
	cli.AssertExpectations(t)
}

func TestWholeDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cli := &MockClient{}
	factory := &MockClientFactory{}
	factory.On("NewClient", mock.Anything, []string{"a:7100", "b:7100"}).Return(cli, nil).Once()

	var cb Callback
	cli.On("GetTableCheckpointInfos", mock.Anything, model.ReplicationGroupID("g1"),
		model.NamespaceID("ns-s"), []string{"t2"}, []string{"public"}, mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		cb = args.Get(5).(Callback)
	}).Once()

	cp := ForGroup(wholeDatabaseGroup(), NewClientCache(factory))
	require.Equal(t, model.ScopeWholeDatabase, cp.Scope())

	called := 0
	require.NoError(t, cp.Checkpoint(ctx, testTable, func(Result, error) { called++ }))
	// the client stays open until the callback fires
	cli.AssertNotCalled(t, "Close")

	cli.On("Close").Return(nil).Once()
	cb(Result{CheckpointTs: model.InvalidTs}, nil)
	require.Equal(t, 1, called)
	cli.AssertExpectations(t)

	now := time.UnixMilli(1700000000000)
	checkpointTs, err := cp.CheckpointTs(Result{CheckpointTs: model.InvalidTs}, now)
	require.NoError(t, err)
	require.Equal(t, model.NewTs(now), checkpointTs)
}

func TestWholeDatabaseStartFailure(t *testing.T) {
	t.Parallel()

	cli := &MockClient{}
	factory := &MockClientFactory{}
	factory.On("NewClient", mock.Anything, mock.Anything).Return(cli, nil).Once()
	cli.On("GetTableCheckpointInfos", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return(errors.New("unavailable")).Once()
	cli.On("Close").Return(nil).Once()

	cp := ForGroup(wholeDatabaseGroup(), NewClientCache(factory))
	err := cp.Checkpoint(context.Background(), testTable, func(Result, error) {
		require.FailNow(t, "unexpected callback")
	})
	require.ErrorContains(t, err, "unavailable")
	cli.AssertExpectations(t)
}

func TestWholeDatabaseNamespaceNotReplicated(t *testing.T) {
	t.Parallel()

	factory := &MockClientFactory{}
	cp := ForGroup(wholeDatabaseGroup(), NewClientCache(factory))
	table := *testTable
	table.NamespaceID = "ns-x"
	err := cp.Checkpoint(context.Background(), &table, func(Result, error) {})
	require.True(t, cerrors.Is(err, cerrors.ErrProducerNamespaceNotFound))
	factory.AssertNotCalled(t, "NewClient", mock.Anything, mock.Anything)
}

func TestClientCacheCloseError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cli1, cli2 := &MockClient{}, &MockClient{}
	factory := &MockClientFactory{}
	factory.On("NewClient", mock.Anything, []string{"a:7100", "b:7100"}).Return(cli1, nil).Once()
	factory.On("NewClient", mock.Anything, []string{"c:7100"}).Return(cli2, nil).Once()
	factory.On("NewClient", mock.Anything, []string{"d:7100"}).
		Return(nil, errors.New("dial failed")).Once()
	cache := NewClientCache(factory)

	_, err := cache.GetOrCreate(ctx, explicitGroup())
	require.NoError(t, err)
	_, err = cache.GetOrCreate(ctx, &model.ReplicationGroupInfo{SourceMasterAddrs: []string{"c:7100"}})
	require.NoError(t, err)
	_, err = cache.GetOrCreate(ctx, &model.ReplicationGroupInfo{SourceMasterAddrs: []string{"d:7100"}})
	require.ErrorContains(t, err, "dial failed")

	cli1.On("Close").Return(errors.New("close 1")).Once()
	cli2.On("Close").Return(errors.New("close 2")).Once()
	err = cache.Close()
	require.ErrorContains(t, err, "close 1")
	require.ErrorContains(t, err, "close 2")
	factory.AssertExpectations(t)
}
