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
	"sync"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

func newActiveGroup(id model.ReplicationGroupID) *model.ReplicationGroupInfo {
	return &model.ReplicationGroupInfo{
		ID:                id,
		SourceMasterAddrs: []string{"127.0.0.1:7100"},
		State:             model.GroupStateActive,
		ProducerTables:    []model.TableID{"p1"},
		ValidatedTables:   map[model.TableID]model.TableID{"p1": "c1"},
	}
}

// testStore runs the common Store contract against an implementation.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "g1")
	require.True(t, cerrors.IsNotFound(err))

	require.NoError(t, store.Create(ctx, newActiveGroup("g1")))
	err = store.Create(ctx, newActiveGroup("g1"))
	require.True(t, cerrors.Is(err, cerrors.ErrReplicationGroupAlreadyExists))
	require.NoError(t, store.Create(ctx, newActiveGroup("g0")))

	info, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, model.GroupStateActive, info.State)
	require.Greater(t, info.Revision, int64(0))

	groups, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, model.ReplicationGroupID("g0"), groups[0].ID)

	updated, err := store.Update(ctx, "g1", func(info *model.ReplicationGroupInfo) error {
		info.PendingAdds = append(info.PendingAdds, model.PendingTable{ProducerTableID: "p2", BootstrapID: "b2"})
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, updated.Revision, info.Revision)
	require.True(t, updated.HasProducerTable("p2"))

	// a failed update leaves the group untouched
	_, err = store.Update(ctx, "g1", func(info *model.ReplicationGroupInfo) error {
		info.State = model.GroupStateFailed
		return errors.New("abort")
	})
	require.Error(t, err)
	info, err = store.Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, model.GroupStateActive, info.State)
	require.Equal(t, updated.Revision, info.Revision)

	_, err = store.Update(ctx, "g9", func(info *model.ReplicationGroupInfo) error { return nil })
	require.True(t, cerrors.IsNotFound(err))

	// concurrent updates are serialized
	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, "g0", func(info *model.ReplicationGroupInfo) error {
				info.ProducerTables = append(info.ProducerTables, model.TableID(fmt.Sprintf("t%d", i)))
				return nil
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	info, err = store.Get(ctx, "g0")
	require.NoError(t, err)
	require.Len(t, info.ProducerTables, 9)

	require.NoError(t, store.Delete(ctx, "g0"))
	require.True(t, cerrors.IsNotFound(store.Delete(ctx, "g0")))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newActiveGroup("g1")))
	info, err := store.Get(ctx, "g1")
	require.NoError(t, err)
	info.ValidatedTables["p9"] = "c9"

	info, err = store.Get(ctx, "g1")
	require.NoError(t, err)
	require.False(t, info.HasConsumerTable("c9"))
}
