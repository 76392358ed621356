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

package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xcluster/xtarget/pkg/config"
	"github.com/xcluster/xtarget/pkg/workerpool"
	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/model"
	"github.com/xcluster/xtarget/xcluster/scheduler"
	"github.com/xcluster/xtarget/xcluster/task"
)

const (
	finishedTaskRetention = time.Minute
	gcInterval            = 10 * time.Second
)

// TaskInfo describes an admission task for monitoring.
type TaskInfo struct {
	ID      string
	GroupID model.ReplicationGroupID
	Table   string
	State   scheduler.State
	Step    string
	Age     time.Duration
	Err     error
}

type trackedTask struct {
	task       *task.AddTableTask
	handle     *scheduler.Handle
	finishedAt time.Time
}

// Manager creates admission tasks for newly created tables and tracks them.
type Manager struct {
	cfg       *config.AdmissionConfig
	groups    group.Reader
	deps      task.Deps
	knobs     task.TestingKnobs
	pool      workerpool.AsyncPool
	scheduler *scheduler.Scheduler

	mu    sync.Mutex
	tasks map[string]*trackedTask
}

// Option configures a Manager.
type Option func(m *Manager)

// WithTestingKnobs sets the knobs of every task the manager creates.
func WithTestingKnobs(knobs task.TestingKnobs) Option {
	return func(m *Manager) {
		m.knobs = knobs
	}
}

// NewPool creates the worker pool task steps run on. Components started by
// the steps, like the setup tracker, share it.
func NewPool(cfg *config.AdmissionConfig) workerpool.AsyncPool {
	return workerpool.NewDefaultAsyncPool(cfg.WorkerNum)
}

// New creates a Manager running steps on pool. deps.Clock must be set.
func New(
	cfg *config.AdmissionConfig, pool workerpool.AsyncPool, deps task.Deps, opts ...Option,
) *Manager {
	m := &Manager{
		cfg:       cfg,
		groups:    deps.Groups,
		deps:      deps,
		knobs:     task.NoopKnobs{},
		pool:      pool,
		scheduler: scheduler.New(pool, deps.Clock),
		tasks:     make(map[string]*trackedTask),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run runs the worker pool and the gc of finished tasks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return m.pool.Run(ctx)
	})
	errg.Go(func() error {
		ticker := m.deps.Clock.Ticker(gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return errors.Trace(ctx.Err())
			case <-ticker.C:
				m.gc()
			}
		}
	})
	return errors.Trace(errg.Wait())
}

// OnTableCreated starts an admission task for every replication group that
// has to take the table. The tasks are bounded by ctx and the configured task
// timeout.
func (m *Manager) OnTableCreated(
	ctx context.Context, table *model.TableInfo,
) ([]*scheduler.Handle, error) {
	groups, err := m.groups.List(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var handles []*scheduler.Handle
	for _, info := range groups {
		if !group.ShouldAddTable(info, table) {
			continue
		}
		t := task.NewAddTableTask(table, info, m.deps,
			task.WithTestingKnobs(m.knobs),
			task.WithScheduleDelay(time.Duration(m.cfg.ScheduleDelay)),
			task.WithWarnInterval(time.Duration(m.cfg.SafeTimeWarnInterval)))
		tracked := &trackedTask{task: t}
		m.mu.Lock()
		m.tasks[t.ID()] = tracked
		m.mu.Unlock()

		taskCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.TaskTimeout))
		h := m.scheduler.Submit(taskCtx, t)
		m.mu.Lock()
		tracked.handle = h
		m.mu.Unlock()
		go func() {
			<-h.Done()
			cancel()
			m.markFinished(t.ID())
		}()
		handles = append(handles, h)

		log.Info("admission task created",
			zap.String("taskID", t.ID()),
			zap.String("groupID", string(info.ID)),
			zap.String("table", table.String()),
			zap.Stringer("scope", info.Scope()))
	}
	return handles, nil
}

func (m *Manager) markFinished(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tracked, ok := m.tasks[id]; ok {
		tracked.finishedAt = m.deps.Clock.Now()
	}
}

func (m *Manager) gc() {
	now := m.deps.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tracked := range m.tasks {
		if !tracked.finishedAt.IsZero() && now.Sub(tracked.finishedAt) >= finishedTaskRetention {
			delete(m.tasks, id)
		}
	}
}

// Tasks returns the tracked tasks, oldest first.
func (m *Manager) Tasks() []TaskInfo {
	now := m.deps.Clock.Now()
	m.mu.Lock()
	infos := make([]TaskInfo, 0, len(m.tasks))
	for id, tracked := range m.tasks {
		if tracked.handle == nil {
			continue
		}
		infos = append(infos, TaskInfo{
			ID:      id,
			GroupID: tracked.task.GroupID(),
			Table:   tracked.task.Table().String(),
			State:   tracked.handle.State(),
			Step:    tracked.handle.Step(),
			Age:     now.Sub(tracked.handle.CreatedAt()),
			Err:     tracked.handle.Err(),
		})
	}
	m.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Age != infos[j].Age {
			return infos[i].Age > infos[j].Age
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}
