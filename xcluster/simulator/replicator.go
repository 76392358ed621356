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
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/xcluster/xtarget/pkg/clock"
	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/model"
	"github.com/xcluster/xtarget/xcluster/safetime"
)

// Replicator pretends to poll the source cluster: on every tick it advances
// the applied time of each validated consumer table of every active group to
// now minus lag, then recomputes the safe times.
type Replicator struct {
	groups   group.Reader
	epoch    func() model.LeaderEpoch
	cluster  *Cluster
	safeTime *safetime.Map
	clock    clock.Clock
	lag      time.Duration
	interval time.Duration
}

// NewReplicator creates a Replicator.
func NewReplicator(
	groups group.Reader, cluster *Cluster, safeTime *safetime.Map, epoch func() model.LeaderEpoch,
	clk clock.Clock, lag, interval time.Duration,
) *Replicator {
	return &Replicator{
		groups:   groups,
		epoch:    epoch,
		cluster:  cluster,
		safeTime: safeTime,
		clock:    clk,
		lag:      lag,
		interval: interval,
	}
}

// Tick applies one round of replication.
func (r *Replicator) Tick(ctx context.Context) error {
	infos, err := r.groups.List(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	applied := model.NewTs(r.clock.Now().Add(-r.lag))
	for _, info := range infos {
		if info.State != model.GroupStateActive {
			continue
		}
		for _, consumer := range info.ValidatedTables {
			table, ok := r.cluster.TargetTable(consumer)
			if !ok {
				log.Warn("validated table missing on target",
					zap.String("groupID", string(info.ID)),
					zap.String("tableID", string(consumer)))
				continue
			}
			r.safeTime.SetAppliedTs(table.NamespaceID, consumer, applied)
			r.safeTime.SetDDLQueueTs(table.NamespaceID, applied)
		}
	}
	return errors.Trace(r.safeTime.Refresh(ctx, r.epoch()))
}

// Run ticks until ctx is done.
func (r *Replicator) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				log.Warn("replication tick failed", zap.Error(err))
			}
		}
	}
}
