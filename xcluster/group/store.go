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
	"sort"
	"sync"

	"github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

// Reader is the read side of the replication group handle. The returned
// snapshot is owned by the caller.
type Reader interface {
	Get(ctx context.Context, id model.ReplicationGroupID) (*model.ReplicationGroupInfo, error)
	List(ctx context.Context) ([]*model.ReplicationGroupInfo, error)
}

// UpdateFunc mutates a private copy of the group. Returning an error aborts
// the update and leaves the stored group untouched.
type UpdateFunc func(info *model.ReplicationGroupInfo) error

// Store persists replication group configurations. Update is atomic per group.
type Store interface {
	Reader
	Create(ctx context.Context, info *model.ReplicationGroupInfo) error
	Update(ctx context.Context, id model.ReplicationGroupID, fn UpdateFunc) (*model.ReplicationGroupInfo, error)
	Delete(ctx context.Context, id model.ReplicationGroupID) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	groups   map[model.ReplicationGroupID]*model.ReplicationGroupInfo
	revision int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[model.ReplicationGroupID]*model.ReplicationGroupInfo)}
}

// Get implements Reader.
func (s *MemoryStore) Get(
	_ context.Context, id model.ReplicationGroupID,
) (*model.ReplicationGroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.groups[id]
	if !ok {
		return nil, errors.ErrReplicationGroupNotFound.GenWithStackByArgs(id)
	}
	return info.Clone(), nil
}

// List implements Reader.
func (s *MemoryStore) List(_ context.Context) ([]*model.ReplicationGroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*model.ReplicationGroupInfo, 0, len(s.groups))
	for _, info := range s.groups {
		res = append(res, info.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, info *model.ReplicationGroupInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[info.ID]; ok {
		return errors.ErrReplicationGroupAlreadyExists.GenWithStackByArgs(info.ID)
	}
	s.revision++
	stored := info.Clone()
	stored.Revision = s.revision
	s.groups[info.ID] = stored
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(
	_ context.Context, id model.ReplicationGroupID, fn UpdateFunc,
) (*model.ReplicationGroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.groups[id]
	if !ok {
		return nil, errors.ErrReplicationGroupNotFound.GenWithStackByArgs(id)
	}
	updated := info.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.revision++
	updated.ID = id
	updated.Revision = s.revision
	s.groups[id] = updated
	return updated.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id model.ReplicationGroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return errors.ErrReplicationGroupNotFound.GenWithStackByArgs(id)
	}
	delete(s.groups, id)
	return nil
}
