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

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xcluster/xtarget/pkg/clock"
	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/pkg/workerpool"
	"github.com/xcluster/xtarget/xcluster/task"
)

// State is the externally visible state of a submitted task.
type State int32

// All handle states
const (
	StateRunning State = iota
	StateComplete
	StateFailed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// IsTerminal reports whether the task finished.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Handle tracks a submitted task.
type Handle struct {
	task      task.Task
	createdAt time.Time
	startedAt clock.MonotonicTime

	state    atomic.Int32
	finished atomic.Bool
	inFlight atomic.Bool
	done     chan struct{}

	mu       sync.Mutex
	err      error
	stepName string
	timer    *clock.Timer
	stopCtx  func() bool
}

func newHandle(t task.Task, clk clock.Clock) *Handle {
	return &Handle{
		task:      t,
		createdAt: clk.Now(),
		startedAt: clk.Mono(),
		done:      make(chan struct{}),
	}
}

// Task returns the submitted task.
func (h *Handle) Task() task.Task {
	return h.task
}

// CreatedAt returns when the task was submitted.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// State returns the current state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Step returns the name of the step that ran last.
func (h *Handle) Step() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stepName
}

// Err returns the error the task failed with.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the task completed or failed. An abandoned task is not done.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finished and returns its error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-h.done:
		return h.Err()
	}
}

// Scheduler drives tasks step by step. Steps of one task never overlap,
// steps of different tasks run in parallel on the worker pool.
type Scheduler struct {
	pool  workerpool.AsyncPool
	clock clock.Clock
}

// New creates a Scheduler. The pool must be running for steps to make progress.
func New(pool workerpool.AsyncPool, clk clock.Clock) *Scheduler {
	return &Scheduler{pool: pool, clock: clk}
}

// Submit starts t. The task fails with ErrXClusterTaskTimeout once ctx is
// done before the task finished.
func (s *Scheduler) Submit(ctx context.Context, t task.Task) *Handle {
	h := newHandle(t, s.clock)
	log.Info("task submitted", zap.String("taskID", t.ID()), zap.String("task", t.Description()))
	taskStartedCounter.Inc()

	h.mu.Lock()
	h.stopCtx = context.AfterFunc(ctx, func() {
		s.finish(h, StateFailed, cerrors.WrapError(
			cerrors.ErrXClusterTaskTimeout, context.Cause(ctx), t.Description()))
	})
	h.mu.Unlock()

	s.dispatch(ctx, h, t.FirstStep())
	return h
}

func (s *Scheduler) dispatch(ctx context.Context, h *Handle, step task.Step) {
	if h.finished.Load() {
		s.dropStep(h, step)
		return
	}
	err := s.pool.Go(ctx, func() {
		s.runStep(ctx, h, step)
	})
	if err != nil {
		if ctx.Err() != nil {
			// The deadline callback fails the task.
			return
		}
		s.finish(h, StateFailed, errors.Trace(err))
	}
}

// dropStep discards a step that became due after its task finished, such as
// a delayed step whose timer fired while the deadline callback ran.
func (s *Scheduler) dropStep(h *Handle, step task.Step) {
	droppedStepCounter.Inc()
	log.Debug("step of finished task dropped",
		zap.String("taskID", h.task.ID()),
		zap.String("step", step.Name()),
		zap.Error(cerrors.ErrTaskAlreadyFinished.GenWithStackByArgs(h.task.Description())))
}

func (s *Scheduler) runStep(ctx context.Context, h *Handle, step task.Step) {
	if h.finished.Load() {
		s.dropStep(h, step)
		return
	}
	if !h.inFlight.CompareAndSwap(false, true) {
		s.finish(h, StateFailed,
			cerrors.ErrStepAlreadyRunning.GenWithStackByArgs(h.task.Description(), step.Name()))
		return
	}
	h.mu.Lock()
	h.stepName = step.Name()
	h.mu.Unlock()

	out := step.Run(ctx)
	h.inFlight.Store(false)
	log.Debug("task step finished",
		zap.String("taskID", h.task.ID()),
		zap.String("step", step.Name()),
		zap.Stringer("outcome", out))
	s.handleOutcome(ctx, h, out)
}

func (s *Scheduler) handleOutcome(ctx context.Context, h *Handle, out task.Outcome) {
	switch out.Kind {
	case task.OutcomeComplete:
		s.finish(h, StateComplete, nil)
	case task.OutcomeScheduleNow:
		s.dispatch(ctx, h, out.Next)
	case task.OutcomeScheduleAfter:
		timer := s.clock.AfterFunc(out.Delay, func() {
			s.dispatch(ctx, h, out.Next)
		})
		h.mu.Lock()
		h.timer = timer
		h.mu.Unlock()
		// The task may have finished while the timer was being armed.
		if h.finished.Load() {
			timer.Stop()
		}
	case task.OutcomeAwait:
		var once sync.Once
		err := out.Start(func(next task.Step) {
			once.Do(func() {
				s.dispatch(ctx, h, next)
			})
		})
		if err != nil {
			s.finish(h, StateFailed, err)
		}
	case task.OutcomeStall:
		if h.state.CompareAndSwap(int32(StateRunning), int32(StateAbandoned)) {
			log.Warn("task abandoned", zap.String("taskID", h.task.ID()),
				zap.String("task", h.task.Description()), zap.String("step", h.Step()))
		}
	case task.OutcomeFatal:
		s.finish(h, StateFailed, out.Err)
	default:
		s.finish(h, StateFailed, errors.Errorf("unknown outcome %v", out.Kind))
	}
}

func (s *Scheduler) finish(h *Handle, state State, err error) {
	if h.finished.Swap(true) {
		return
	}
	h.mu.Lock()
	h.err = err
	if h.timer != nil {
		h.timer.Stop()
	}
	stopCtx := h.stopCtx
	h.mu.Unlock()
	if stopCtx != nil {
		stopCtx()
	}
	if f, ok := h.task.(task.Finalizer); ok {
		f.Finalize()
	}
	h.state.Store(int32(state))
	close(h.done)

	elapsed := s.clock.Mono().Sub(h.startedAt)
	taskFinishedCounter.WithLabelValues(state.String()).Inc()
	taskDurationHistogram.WithLabelValues(state.String()).Observe(elapsed.Seconds())
	if err != nil {
		log.Warn("task failed", zap.String("taskID", h.task.ID()),
			zap.String("task", h.task.Description()), zap.String("step", h.Step()),
			zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	log.Info("task complete", zap.String("taskID", h.task.ID()),
		zap.String("task", h.task.Description()), zap.Duration("elapsed", elapsed))
}
