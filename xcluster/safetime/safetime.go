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

package safetime

import (
	"context"
	"sync"

	"github.com/xcluster/xtarget/pkg/clock"
	"github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/model"
)

// Filter selects the inputs of the safe time computation.
type Filter int

const (
	// FilterNone includes every input of the namespace.
	FilterNone Filter = iota
	// FilterDDLQueue leaves the DDL queue out of the computation.
	FilterDDLQueue
)

// Service provides the xCluster safe time of target namespaces.
type Service interface {
	// Refresh recomputes the safe time of every replicated namespace.
	Refresh(ctx context.Context, epoch model.LeaderEpoch) error
	// GetSafeTime returns the last computed safe time of the namespace, or an
	// ErrXClusterSafeTimeNotFound error when it is not replicated.
	GetSafeTime(
		ctx context.Context, epoch model.LeaderEpoch, namespaceID model.NamespaceID, filter Filter,
	) (model.Ts, error)
}

type namespaceState struct {
	tables   map[model.TableID]model.Ts
	ddlQueue model.Ts
	hasDDL   bool
}

type computed struct {
	all        model.Ts
	withoutDDL model.Ts
}

// Map is a Service that computes the safe time of a namespace as the minimum
// applied time over its replicated tables and, unless filtered, its DDL queue.
// Applied times are reported by the replication pollers through SetAppliedTs.
type Map struct {
	clock clock.Clock

	mu         sync.Mutex
	epoch      model.LeaderEpoch
	namespaces map[model.NamespaceID]*namespaceState
	safeTimes  map[model.NamespaceID]computed
}

// NewMap creates an empty Map serving the given leader epoch.
func NewMap(clk clock.Clock, epoch model.LeaderEpoch) *Map {
	return &Map{
		clock:      clk,
		epoch:      epoch,
		namespaces: make(map[model.NamespaceID]*namespaceState),
		safeTimes:  make(map[model.NamespaceID]computed),
	}
}

// SetLeaderEpoch moves the map to a new leader epoch. Requests carrying any
// other epoch are rejected.
func (m *Map) SetLeaderEpoch(epoch model.LeaderEpoch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch = epoch
}

func (m *Map) checkEpoch(epoch model.LeaderEpoch) error {
	if epoch != m.epoch {
		return errors.ErrNotLeader.GenWithStackByArgs(epoch.Term, m.epoch.Term)
	}
	return nil
}

func (m *Map) namespace(id model.NamespaceID) *namespaceState {
	ns, ok := m.namespaces[id]
	if !ok {
		ns = &namespaceState{tables: make(map[model.TableID]model.Ts)}
		m.namespaces[id] = ns
	}
	return ns
}

// SetAppliedTs records that every change of the table up to ts is applied on
// the target. Applied times never move backwards.
func (m *Map) SetAppliedTs(namespaceID model.NamespaceID, tableID model.TableID, ts model.Ts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespace(namespaceID)
	if old, ok := ns.tables[tableID]; !ok || ts > old {
		ns.tables[tableID] = ts
	}
}

// SetDDLQueueTs records the applied time of the namespace's DDL queue.
func (m *Map) SetDDLQueueTs(namespaceID model.NamespaceID, ts model.Ts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespace(namespaceID)
	if !ns.hasDDL || ts > ns.ddlQueue {
		ns.ddlQueue = ts
	}
	ns.hasDDL = true
}

// RemoveNamespace drops the namespace from replication.
func (m *Map) RemoveNamespace(namespaceID model.NamespaceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespaceID)
	delete(m.safeTimes, namespaceID)
	safeTimeLagGauge.DeleteLabelValues(string(namespaceID))
}

// Refresh implements Service.
func (m *Map) Refresh(_ context.Context, epoch model.LeaderEpoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkEpoch(epoch); err != nil {
		return err
	}

	now := m.clock.Now()
	safeTimes := make(map[model.NamespaceID]computed, len(m.namespaces))
	for id, ns := range m.namespaces {
		if len(ns.tables) == 0 {
			continue
		}
		withoutDDL := model.MaxTs
		for _, ts := range ns.tables {
			if ts < withoutDDL {
				withoutDDL = ts
			}
		}
		all := withoutDDL
		if ns.hasDDL && ns.ddlQueue < all {
			all = ns.ddlQueue
		}
		safeTimes[id] = computed{all: all, withoutDDL: withoutDDL}
		if !all.IsSpecial() {
			safeTimeLagGauge.WithLabelValues(string(id)).Set(now.Sub(all.Physical()).Seconds())
		}
	}
	m.safeTimes = safeTimes
	return nil
}

// GetSafeTime implements Service.
func (m *Map) GetSafeTime(
	_ context.Context, epoch model.LeaderEpoch, namespaceID model.NamespaceID, filter Filter,
) (model.Ts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkEpoch(epoch); err != nil {
		return model.InvalidTs, err
	}
	safeTime, ok := m.safeTimes[namespaceID]
	if !ok {
		return model.InvalidTs, errors.ErrXClusterSafeTimeNotFound.GenWithStackByArgs(namespaceID)
	}
	if filter == FilterDDLQueue {
		return safeTime.withoutDDL, nil
	}
	return safeTime.all, nil
}
