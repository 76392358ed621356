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
	"fmt"
	"time"
)

// OutcomeKind tells the scheduler what to do after a step returned.
type OutcomeKind int

// All outcome kinds
const (
	OutcomeComplete OutcomeKind = iota
	OutcomeScheduleNow
	OutcomeScheduleAfter
	OutcomeAwait
	OutcomeStall
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeComplete:
		return "complete"
	case OutcomeScheduleNow:
		return "schedule-now"
	case OutcomeScheduleAfter:
		return "schedule-after"
	case OutcomeAwait:
		return "await"
	case OutcomeStall:
		return "stall"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Continue hands the next step to the scheduler once an awaited
// asynchronous call finished.
type Continue func(next Step)

// StartFunc starts an asynchronous call and arranges for cont to be invoked
// exactly once when it finishes. A returned error fails the task and cont
// must then not be invoked.
type StartFunc func(cont Continue) error

// Outcome is the result of running a step. Steps never talk to the scheduler
// directly, they describe what should happen next.
type Outcome struct {
	Kind  OutcomeKind
	Next  Step
	Delay time.Duration
	Start StartFunc
	Err   error
}

// Complete finishes the task successfully.
func Complete() Outcome {
	return Outcome{Kind: OutcomeComplete}
}

// ScheduleNow runs next as soon as possible.
func ScheduleNow(next Step) Outcome {
	return Outcome{Kind: OutcomeScheduleNow, Next: next}
}

// ScheduleAfter runs next once delay elapsed.
func ScheduleAfter(next Step, delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeScheduleAfter, Next: next, Delay: delay}
}

// Await suspends the task until start delivers the next step.
func Await(start StartFunc) Outcome {
	return Outcome{Kind: OutcomeAwait, Start: start}
}

// Stall leaves the task without completing it and without further work.
func Stall() Outcome {
	return Outcome{Kind: OutcomeStall}
}

// Fatal fails the task with err.
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeScheduleNow:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Next.Name())
	case OutcomeScheduleAfter:
		return fmt.Sprintf("%s(%s, %s)", o.Kind, o.Next.Name(), o.Delay)
	case OutcomeFatal:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Err)
	}
	return o.Kind.String()
}

// Step is a named synchronous unit of work of a task.
type Step struct {
	name string
	run  func(ctx context.Context) Outcome
}

// NewStep creates a Step.
func NewStep(name string, run func(ctx context.Context) Outcome) Step {
	return Step{name: name, run: run}
}

// Name returns the name of the step.
func (s Step) Name() string {
	return s.name
}

// Run runs the step.
func (s Step) Run(ctx context.Context) Outcome {
	return s.run(ctx)
}

// Task is a resumable multi step job driven by a scheduler.
type Task interface {
	ID() string
	Description() string
	FirstStep() Step
}

// Finalizer is implemented by tasks holding state that must be released once
// the task finished, whichever way it finished.
type Finalizer interface {
	Finalize()
}
