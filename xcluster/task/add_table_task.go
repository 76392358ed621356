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

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xcluster/xtarget/pkg/clock"
	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/xcluster/checkpoint"
	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/model"
	"github.com/xcluster/xtarget/xcluster/safetime"
)

// step names
const (
	StepDecide                     = "Decide"
	StepCheckpoint                 = "Checkpoint"
	StepAddTableToReplicationGroup = "AddTableToReplicationGroup"
	StepWaitForSetupToFinish       = "WaitForSetupToFinish"
	StepRefreshSafeTime            = "RefreshSafeTime"
	StepWaitForSafeTimeCaughtUp    = "WaitForSafeTimeCaughtUp"
)

const (
	// DefaultScheduleDelay is the pause before re-polling a slow remote operation.
	DefaultScheduleDelay = 200 * time.Millisecond
	// DefaultWarnInterval bounds how often a task logs that safe time is behind.
	DefaultWarnInterval = 10 * time.Second
)

// Deps are the collaborators of an AddTableTask.
type Deps struct {
	Groups      group.Reader
	Clients     *checkpoint.ClientCache
	Mutator     group.Mutator
	SetupPoller group.SetupPoller
	SafeTime    safetime.Service
	LeaderEpoch func() model.LeaderEpoch
	Clock       clock.Clock
}

// Option configures an AddTableTask.
type Option func(t *AddTableTask)

// WithTestingKnobs sets the fault injection knobs.
func WithTestingKnobs(knobs TestingKnobs) Option {
	return func(t *AddTableTask) {
		t.knobs = knobs
	}
}

// WithScheduleDelay sets the delay between polls.
func WithScheduleDelay(delay time.Duration) Option {
	return func(t *AddTableTask) {
		t.delay = delay
	}
}

// WithWarnInterval sets the minimum interval between two warnings about
// safe time not catching up.
func WithWarnInterval(interval time.Duration) Option {
	return func(t *AddTableTask) {
		t.warnInterval = interval
	}
}

// AddTableTask admits a newly created table into a running xCluster
// replication group on the target. It checkpoints the table on the source,
// adds it to the group, waits for the setup replication and finally waits
// for the xCluster safe time to pass the checkpoint.
type AddTableTask struct {
	id           string
	table        *model.TableInfo
	groupID      model.ReplicationGroupID
	checkpointer checkpoint.Checkpointer

	groups      group.Reader
	mutator     group.Mutator
	setupPoller group.SetupPoller
	safeTime    safetime.Service
	leaderEpoch func() model.LeaderEpoch
	clock       clock.Clock

	knobs        TestingKnobs
	delay        time.Duration
	warnInterval time.Duration
	warnLimiter  *rate.Limiter

	mutated         atomic.Bool
	setupID         string
	checkpointTs    model.Ts
	initialSafeTime model.Ts
}

var (
	_ Task      = (*AddTableTask)(nil)
	_ Finalizer = (*AddTableTask)(nil)
)

// NewAddTableTask creates a task adding table to the group. The scope of the
// group is fixed from info.
func NewAddTableTask(
	table *model.TableInfo, info *model.ReplicationGroupInfo, deps Deps, opts ...Option,
) *AddTableTask {
	t := &AddTableTask{
		id:              uuid.New().String(),
		table:           table,
		groupID:         info.ID,
		checkpointer:    checkpoint.ForGroup(info, deps.Clients),
		groups:          deps.Groups,
		mutator:         deps.Mutator,
		setupPoller:     deps.SetupPoller,
		safeTime:        deps.SafeTime,
		leaderEpoch:     deps.LeaderEpoch,
		clock:           deps.Clock,
		knobs:           NoopKnobs{},
		delay:           DefaultScheduleDelay,
		warnInterval:    DefaultWarnInterval,
		checkpointTs:    model.InvalidTs,
		initialSafeTime: model.InvalidTs,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.leaderEpoch == nil {
		t.leaderEpoch = func() model.LeaderEpoch { return model.LeaderEpoch{} }
	}
	if t.clock == nil {
		t.clock = clock.New()
	}
	t.warnLimiter = rate.NewLimiter(rate.Every(t.warnInterval), 1)
	return t
}

// ID implements Task.
func (t *AddTableTask) ID() string {
	return t.id
}

// Description implements Task.
func (t *AddTableTask) Description() string {
	return fmt.Sprintf("AddTableToXClusterTarget [%s]", t.table.ID)
}

// Table returns the table being added.
func (t *AddTableTask) Table() *model.TableInfo {
	return t.table
}

// GroupID returns the target replication group.
func (t *AddTableTask) GroupID() model.ReplicationGroupID {
	return t.groupID
}

// Scope returns the scope the task was created for.
func (t *AddTableTask) Scope() model.ScopeMode {
	return t.checkpointer.Scope()
}

// CheckpointTs returns the checkpoint time, InvalidTs until it is known.
func (t *AddTableTask) CheckpointTs() model.Ts {
	return t.checkpointTs
}

// InitialSafeTime returns the safe time the task waits to pass, InvalidTs
// until it is known.
func (t *AddTableTask) InitialSafeTime() model.Ts {
	return t.initialSafeTime
}

// Finalize implements Finalizer. It drops the lag series of the table, which
// covers timeouts that end the task between two polls.
func (t *AddTableTask) Finalize() {
	t.clearWaitLag()
}

func (t *AddTableTask) clearWaitLag() {
	safeTimeWaitLagGauge.DeleteLabelValues(string(t.groupID), string(t.table.ID))
}

func (t *AddTableTask) logFields(fields ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("taskID", t.id),
		zap.String("groupID", string(t.groupID)),
		zap.String("table", t.table.String()),
	}, fields...)
}

func (t *AddTableTask) step(name string, fn func(ctx context.Context) Outcome) Step {
	return NewStep(name, func(ctx context.Context) Outcome {
		start := t.clock.Mono()
		out := fn(ctx)
		stepDurationHistogram.WithLabelValues(name).Observe(t.clock.Mono().Sub(start).Seconds())
		return out
	})
}

// pollStep returns a step that re-schedules itself after the delay until
// check reports done, and then yields the outcome check returned.
func (t *AddTableTask) pollStep(
	name string, check func(ctx context.Context) (bool, Outcome),
) Step {
	var s Step
	s = t.step(name, func(ctx context.Context) Outcome {
		pollCounter.WithLabelValues(name).Inc()
		done, out := check(ctx)
		if !done {
			return ScheduleAfter(s, t.delay)
		}
		return out
	})
	return s
}

// FirstStep implements Task.
func (t *AddTableTask) FirstStep() Step {
	return t.step(StepDecide, t.decide)
}

func (t *AddTableTask) decide(ctx context.Context) Outcome {
	info, err := t.groups.Get(ctx, t.groupID)
	if err != nil {
		if cerrors.IsNotFound(err) {
			log.Info("replication group no longer exists", t.logFields()...)
			return Complete()
		}
		return Fatal(errors.Trace(err))
	}
	if !group.ShouldAddTable(info, t.table) {
		log.Info("table does not need to be added to xCluster replication group", t.logFields()...)
		return Complete()
	}

	if t.knobs.FailBootstrap() {
		return Fatal(cerrors.ErrXClusterBootstrapFailureInjected.GenWithStackByArgs(t.table.ID))
	}
	failpoint.Inject("XClusterFailTableCreateDuringBootstrap", func() {
		failpoint.Return(Fatal(cerrors.ErrXClusterBootstrapFailureInjected.GenWithStackByArgs(t.table.ID)))
	})

	if t.knobs.AbandonBeforeBootstrap() {
		log.Warn("task will be stuck", t.logFields()...)
		return Stall()
	}
	return ScheduleNow(t.step(StepCheckpoint, t.checkpoint))
}

func (t *AddTableTask) checkpoint(ctx context.Context) Outcome {
	return Await(func(cont Continue) error {
		return t.checkpointer.Checkpoint(ctx, t.table, func(res checkpoint.Result, err error) {
			cont(t.step(StepAddTableToReplicationGroup, func(ctx context.Context) Outcome {
				return t.addTableToReplicationGroup(ctx, res, err)
			}))
		})
	})
}

func (t *AddTableTask) addTableToReplicationGroup(
	ctx context.Context, res checkpoint.Result, checkpointErr error,
) Outcome {
	if checkpointErr != nil {
		return Fatal(cerrors.WrapError(cerrors.ErrXClusterBootstrapFailed, checkpointErr, t.groupID))
	}
	if err := res.Validate(); err != nil {
		return Fatal(err)
	}
	checkpointTs, err := t.checkpointer.CheckpointTs(res, t.clock.Now())
	if err != nil {
		return Fatal(err)
	}
	if !t.mutated.CompareAndSwap(false, true) {
		return Fatal(cerrors.ErrXClusterDuplicateMutation.GenWithStackByArgs(t.id, t.groupID))
	}
	t.checkpointTs = checkpointTs

	producerTableID, bootstrapID := res.SourceTableIDs[0], res.CheckpointIDs[0]
	log.Info("adding table to xCluster replication group", t.logFields(
		zap.String("bootstrapID", bootstrapID),
		zap.Stringer("checkpointTs", checkpointTs),
		zap.String("producerTableID", string(producerTableID)))...)
	resp, err := t.mutator.AlterReplicationGroup(ctx, &group.AlterRequest{
		GroupID:               t.groupID,
		ProducerTableIDsToAdd: []model.TableID{producerTableID},
		BootstrapIDsToAdd:     []string{bootstrapID},
	})
	if err != nil {
		return Fatal(errors.Trace(err))
	}
	if resp.Error != nil {
		return Fatal(cerrors.WrapError(
			cerrors.ErrXClusterAlterReplicationFailed, resp.Error, t.groupID, resp.Error.Code))
	}
	t.setupID = resp.SetupID
	return ScheduleAfter(t.pollStep(StepWaitForSetupToFinish, t.checkSetupDone), t.delay)
}

func (t *AddTableTask) checkSetupDone(ctx context.Context) (bool, Outcome) {
	res, err := t.setupPoller.IsSetupDone(ctx, t.groupID, t.setupID)
	if err != nil {
		return true, Fatal(errors.Trace(err))
	}
	if !res.Done {
		// If this takes too long the owner of the task times it out.
		log.Debug("waiting for setup replication to finish", t.logFields()...)
		return false, Outcome{}
	}
	if res.Err != nil {
		return true, Fatal(cerrors.WrapError(cerrors.ErrSetupReplicationFailed, res.Err, t.groupID))
	}
	return true, ScheduleNow(t.step(StepRefreshSafeTime, t.refreshSafeTime))
}

func (t *AddTableTask) refreshSafeTime(ctx context.Context) Outcome {
	// Recompute so that the safe time accounts for the table just added.
	epoch := t.leaderEpoch()
	if err := t.safeTime.Refresh(ctx, epoch); err != nil {
		return Fatal(errors.Trace(err))
	}
	safeTime, found, err := t.getSafeTimeWithoutDDLQueue(ctx, epoch)
	if err != nil {
		return Fatal(err)
	}
	if !found {
		return Complete()
	}
	t.initialSafeTime = model.MaxTsOf(safeTime, t.checkpointTs)
	return ScheduleAfter(t.pollStep(StepWaitForSafeTimeCaughtUp, t.checkSafeTimeCaughtUp), t.delay)
}

func (t *AddTableTask) checkSafeTimeCaughtUp(ctx context.Context) (bool, Outcome) {
	safeTime, found, err := t.getSafeTimeWithoutDDLQueue(ctx, t.leaderEpoch())
	if err != nil {
		t.clearWaitLag()
		return true, Fatal(err)
	}
	if !found {
		t.clearWaitLag()
		return true, Complete()
	}

	if safeTime <= t.initialSafeTime {
		lag := t.initialSafeTime.Physical().Sub(safeTime.Physical())
		safeTimeWaitLagGauge.WithLabelValues(string(t.groupID), string(t.table.ID)).Set(lag.Seconds())
		if t.warnLimiter.AllowN(t.clock.Now(), 1) {
			log.Warn("waiting for xCluster safe time to advance", t.logFields(
				zap.Stringer("safeTime", safeTime),
				zap.Stringer("initialSafeTime", t.initialSafeTime))...)
		}
		return false, Outcome{}
	}

	t.clearWaitLag()
	log.Info("table successfully added to xCluster replication group", t.logFields()...)
	return true, Complete()
}

// getSafeTimeWithoutDDLQueue returns found=false when the namespace is no
// longer part of any replication.
func (t *AddTableTask) getSafeTimeWithoutDDLQueue(
	ctx context.Context, epoch model.LeaderEpoch,
) (model.Ts, bool, error) {
	namespaceID := t.table.NamespaceID
	safeTime, err := t.safeTime.GetSafeTime(ctx, epoch, namespaceID, safetime.FilterDDLQueue)
	if err != nil {
		if !cerrors.IsNotFound(err) {
			return model.InvalidTs, false, errors.Trace(err)
		}
		log.Debug("namespace is no longer part of any xCluster replication",
			t.logFields(zap.String("namespaceID", string(namespaceID)))...)
		return model.InvalidTs, false, nil
	}
	if safeTime.IsSpecial() {
		return model.InvalidTs, false,
			cerrors.ErrXClusterInvalidSafeTime.GenWithStackByArgs(safeTime, namespaceID)
	}
	return safeTime, true, nil
}
