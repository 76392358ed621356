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
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/xcluster/xtarget/pkg/clock"
	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/checkpoint"
	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/model"
	"github.com/xcluster/xtarget/xcluster/safetime"
)

const testLatency = 10 * time.Millisecond

type callResult struct {
	res checkpoint.Result
	err error
}

func newTestCluster() (*Cluster, *clock.Mock) {
	clk := clock.NewMockAt(time.UnixMilli(1700000000000))
	return NewCluster(clk, testLatency), clk
}

func collect(ch chan<- callResult) checkpoint.Callback {
	return func(res checkpoint.Result, err error) {
		ch <- callResult{res: res, err: err}
	}
}

func await(t *testing.T, clk *clock.Mock, ch <-chan callResult) callResult {
	var got callResult
	require.Eventually(t, func() bool {
		clk.Add(testLatency)
		select {
		case got = <-ch:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestBootstrapProducer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newTestCluster()
	src := c.CreateSourceTable("ns-s", "db", "public", "t1")

	cli, err := c.NewClient(ctx, []string{"a:7100"})
	require.NoError(t, err)
	require.EqualValues(t, 1, c.OpenClients())

	ch := make(chan callResult, 1)
	require.NoError(t, cli.BootstrapProducer(ctx, "db", []string{"public"}, []string{"t1"}, collect(ch)))
	got := await(t, clk, ch)
	require.NoError(t, got.err)
	require.NoError(t, got.res.Validate())
	require.Equal(t, []model.TableID{src.ID}, got.res.SourceTableIDs)
	require.False(t, got.res.CheckpointTs.IsSpecial())
	require.False(t, got.res.CheckpointTs.Physical().Before(time.UnixMilli(1700000000000)))

	require.NoError(t, cli.Close())
	require.EqualValues(t, 0, c.OpenClients())
	err = cli.BootstrapProducer(ctx, "db", []string{"public"}, []string{"t1"}, collect(ch))
	require.True(t, cerrors.Is(err, cerrors.ErrRemoteClientClosed))
	require.Error(t, cli.Close())
}

func TestBootstrapProducerUnknownTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newTestCluster()
	c.CreateSourceTable("ns-s", "db", "public", "t1")
	cli, err := c.NewClient(ctx, []string{"a:7100"})
	require.NoError(t, err)
	defer cli.Close()

	ch := make(chan callResult, 1)
	require.NoError(t, cli.BootstrapProducer(ctx, "other", []string{"public"}, []string{"t1"}, collect(ch)))
	got := await(t, clk, ch)
	require.True(t, cerrors.Is(got.err, cerrors.ErrSourceTableNotFound))
}

func TestGetTableCheckpointInfos(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newTestCluster()
	created := model.NewTs(clk.Now())
	src := c.CreateSourceTable("ns-s", "db", "public", "t1")
	cli, err := c.NewClient(ctx, []string{"a:7100"})
	require.NoError(t, err)
	defer cli.Close()

	ch := make(chan callResult, 1)
	require.NoError(t, cli.GetTableCheckpointInfos(
		ctx, "g1", "ns-s", []string{"t1"}, []string{"public"}, collect(ch)))
	got := await(t, clk, ch)
	require.NoError(t, got.err)
	require.Equal(t, []model.TableID{src.ID}, got.res.SourceTableIDs)
	require.Equal(t, created, got.res.CheckpointTs)
}

func TestInjectFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newTestCluster()
	c.CreateSourceTable("ns-s", "db", "public", "t1")
	cli, err := c.NewClient(ctx, []string{"a:7100"})
	require.NoError(t, err)
	defer cli.Close()

	injected := errors.New("source unavailable")
	c.InjectFailure(injected)
	ch := make(chan callResult, 1)
	require.NoError(t, cli.BootstrapProducer(ctx, "db", []string{"public"}, []string{"t1"}, collect(ch)))
	require.ErrorIs(t, await(t, clk, ch).err, injected)

	c.InjectFailure(nil)
	require.NoError(t, cli.BootstrapProducer(ctx, "db", []string{"public"}, []string{"t1"}, collect(ch)))
	require.NoError(t, await(t, clk, ch).err)
}

func TestResolveConsumerTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestCluster()
	src := c.CreateSourceTable("ns-s", "db", "public", "t1")
	c.CreateTargetTable("ns-x", "other", "public", "t1", "")
	dst := c.CreateTargetTable("ns-t", "db", "public", "t1", "")

	explicit := &model.ReplicationGroupInfo{ID: "g1", State: model.GroupStateActive}
	id, err := c.ResolveConsumerTable(ctx, explicit, src.ID)
	require.NoError(t, err)
	require.Equal(t, dst.ID, id)

	wholeDB := explicit.Clone()
	wholeDB.DBScoped = &model.DBScopedInfo{Namespaces: []model.NamespacePair{
		{SourceNamespaceID: "ns-s", TargetNamespaceID: "ns-x"},
	}}
	id, err = c.ResolveConsumerTable(ctx, wholeDB, src.ID)
	require.NoError(t, err)
	require.NotEqual(t, dst.ID, id)

	_, err = c.ResolveConsumerTable(ctx, explicit, "missing")
	require.True(t, cerrors.Is(err, cerrors.ErrSourceTableNotFound))
}

func TestReplicatorTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, clk := newTestCluster()
	store := group.NewMemoryStore()
	epoch := model.LeaderEpoch{Term: 1}
	safeTimes := safetime.NewMap(clk, epoch)
	r := NewReplicator(store, c, safeTimes, func() model.LeaderEpoch { return epoch }, clk, time.Second, time.Second)

	src := c.CreateSourceTable("ns-s", "db", "public", "t1")
	dst := c.CreateTargetTable("ns-t", "db", "public", "t1", "")
	require.NoError(t, store.Create(ctx, &model.ReplicationGroupInfo{
		ID:              "g1",
		State:           model.GroupStateActive,
		ProducerTables:  []model.TableID{src.ID},
		ValidatedTables: map[model.TableID]model.TableID{src.ID: dst.ID},
	}))
	require.NoError(t, store.Create(ctx, &model.ReplicationGroupInfo{
		ID:              "g2",
		State:           model.GroupStateDeleted,
		ValidatedTables: map[model.TableID]model.TableID{"p9": "c9"},
	}))

	require.NoError(t, r.Tick(ctx))
	ts, err := safeTimes.GetSafeTime(ctx, epoch, "ns-t", safetime.FilterNone)
	require.NoError(t, err)
	require.Equal(t, model.NewTs(clk.Now().Add(-time.Second)), ts)

	clk.Add(time.Minute)
	require.NoError(t, r.Tick(ctx))
	next, err := safeTimes.GetSafeTime(ctx, epoch, "ns-t", safetime.FilterDDLQueue)
	require.NoError(t, err)
	require.Greater(t, next, ts)

	safeTimes.SetLeaderEpoch(model.LeaderEpoch{Term: 2})
	require.True(t, cerrors.Is(r.Tick(ctx), cerrors.ErrNotLeader))
}
