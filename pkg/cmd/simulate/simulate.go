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

package simulate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xcluster/xtarget/pkg/clock"
	"github.com/xcluster/xtarget/pkg/cmd/util"
	"github.com/xcluster/xtarget/pkg/config"
	"github.com/xcluster/xtarget/pkg/etcd"
	"github.com/xcluster/xtarget/pkg/logutil"
	"github.com/xcluster/xtarget/xcluster/checkpoint"
	"github.com/xcluster/xtarget/xcluster/group"
	"github.com/xcluster/xtarget/xcluster/manager"
	"github.com/xcluster/xtarget/xcluster/model"
	"github.com/xcluster/xtarget/xcluster/safetime"
	"github.com/xcluster/xtarget/xcluster/scheduler"
	"github.com/xcluster/xtarget/xcluster/simulator"
	"github.com/xcluster/xtarget/xcluster/task"
)

const (
	sourceNamespace = model.NamespaceID("ns-source")
	targetNamespace = model.NamespaceID("ns-target")
	namespaceName   = "app"
	schemaName      = "public"
	baseTableName   = "orders"
)

// options defines flags for the `simulate` command.
type options struct {
	configFilePath string
	logLevel       string
	wholeDatabase  bool
	tables         int
	latency        time.Duration
	lag            time.Duration
	keepMetrics    time.Duration
}

func newOptions() *options {
	return &options{}
}

func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "",
		"Log level overriding the configuration file (etc: debug|info|warn|error)")
	cmd.Flags().BoolVar(&o.wholeDatabase, "whole-database", false,
		"Replicate the whole database instead of an explicit table list")
	cmd.Flags().IntVar(&o.tables, "tables", 3, "Number of tables created on the target while replicating")
	cmd.Flags().DurationVar(&o.latency, "latency", 50*time.Millisecond, "Latency of calls to the source cluster")
	cmd.Flags().DurationVar(&o.lag, "lag", 500*time.Millisecond, "Replication lag of the target cluster")
	cmd.Flags().DurationVar(&o.keepMetrics, "keep-metrics", 0,
		"Keep serving metrics for this long after every task finished")
}

func (o *options) validate() error {
	if o.tables <= 0 {
		return errors.New("tables must be positive")
	}
	if o.latency < 0 || o.lag < 0 {
		return errors.New("latency and lag must not be negative")
	}
	return nil
}

type taskReport struct {
	ID      string                   `json:"id"`
	GroupID model.ReplicationGroupID `json:"group-id"`
	Table   string                   `json:"table"`
	State   string                   `json:"state"`
	Step    string                   `json:"step"`
	Age     string                   `json:"age"`
	Error   string                   `json:"error,omitempty"`
}

func initMetrics(registry *prometheus.Registry) {
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	etcd.InitMetrics(registry)
	safetime.InitMetrics(registry)
	task.InitMetrics(registry)
	scheduler.InitMetrics(registry)
}

func openStore(ctx context.Context, cfg *config.EtcdConfig) (group.Store, func(), error) {
	if len(cfg.Endpoints) == 0 {
		log.Info("no etcd endpoints configured, using in-memory replication group store")
		return group.NewMemoryStore(), func() {}, nil
	}
	cli, err := etcd.NewClient(ctx, cfg.Endpoints, time.Duration(cfg.DialTimeout))
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	closer := func() {
		if err := cli.Close(); err != nil {
			log.Warn("close etcd client failed", zap.Error(err))
		}
	}
	return group.NewEtcdStore(cli, cfg.KeyPrefix), closer, nil
}

func logFailpoints() {
	for _, path := range failpoint.List() {
		status, err := failpoint.Status(path)
		if err != nil {
			log.Error("fail to get failpoint status", zap.Error(err))
		}
		log.Info("failpoint enabled", zap.String("path", path), zap.String("status", status))
	}
}

func (o *options) run(cmd *cobra.Command) error {
	cfg, err := config.LoadServerConfig(o.configFilePath)
	if err != nil {
		return errors.Trace(err)
	}
	ctx, cancel := util.InitCmd(cmd, cfg.Log)
	defer cancel()
	if o.logLevel != "" {
		if err := logutil.SetLogLevel(o.logLevel); err != nil {
			return errors.Annotatef(err, "invalid log level %q", o.logLevel)
		}
	}
	util.InitSignalHandling(cancel)
	util.LogHTTPProxies()
	logFailpoints()

	store, closeStore, err := openStore(ctx, cfg.Etcd)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	initMetrics(registry)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	clk := clock.New()
	epoch := model.LeaderEpoch{Term: 1, PID: 1}
	leader := func() model.LeaderEpoch { return epoch }
	cluster := simulator.NewCluster(clk, o.latency)
	safeTimes := safetime.NewMap(clk, epoch)
	pool := manager.NewPool(cfg.Admission)
	tracker := group.NewSetupTracker(store, cluster, pool)
	clients := checkpoint.NewClientCache(cluster)
	defer func() {
		if err := clients.Close(); err != nil {
			log.Warn("close source clients failed", zap.Error(err))
		}
	}()
	mgr := manager.New(cfg.Admission, pool, task.Deps{
		Groups:      store,
		Clients:     clients,
		Mutator:     group.NewStoreMutator(store, tracker),
		SetupPoller: tracker,
		SafeTime:    safeTimes,
		LeaderEpoch: leader,
		Clock:       clk,
	})
	replicator := simulator.NewReplicator(store, cluster, safeTimes, leader, clk, o.lag,
		time.Duration(cfg.Admission.ScheduleDelay))

	runCtx, stop := context.WithCancel(ctx)
	errg, runCtx := errgroup.WithContext(runCtx)
	errg.Go(func() error {
		return mgr.Run(runCtx)
	})
	errg.Go(func() error {
		return replicator.Run(runCtx)
	})
	errg.Go(func() error {
		log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Trace(err)
		}
		return nil
	})
	errg.Go(func() error {
		<-runCtx.Done()
		return errors.Trace(metricsServer.Shutdown(context.Background()))
	})

	simErr := o.simulate(runCtx, cmd, store, cluster, mgr)
	if simErr == nil && o.keepMetrics > 0 {
		select {
		case <-runCtx.Done():
		case <-clk.After(o.keepMetrics):
		}
	}
	stop()
	log.Info("simulation components exited",
		logutil.ZapErrorFilter(errg.Wait(), context.Canceled))
	return errors.Trace(simErr)
}

// simulate creates a replication group and then tables on the target,
// waiting for every admission task to finish.
func (o *options) simulate(
	ctx context.Context, cmd *cobra.Command,
	store group.Store, cluster *simulator.Cluster, mgr *manager.Manager,
) error {
	baseSource := cluster.CreateSourceTable(sourceNamespace, namespaceName, schemaName, baseTableName)
	baseTarget := cluster.CreateTargetTable(targetNamespace, namespaceName, schemaName, baseTableName, "")
	info := &model.ReplicationGroupInfo{
		ID:                model.ReplicationGroupID("sim-" + uuid.New().String()[:8]),
		SourceMasterAddrs: []string{"127.0.0.1:7100"},
		State:             model.GroupStateActive,
		ProducerTables:    []model.TableID{baseSource.ID},
		ValidatedTables:   map[model.TableID]model.TableID{baseSource.ID: baseTarget.ID},
	}
	if o.wholeDatabase {
		info.DBScoped = &model.DBScopedInfo{Namespaces: []model.NamespacePair{
			{SourceNamespaceID: sourceNamespace, TargetNamespaceID: targetNamespace},
		}}
	}
	if err := store.Create(ctx, info); err != nil {
		return errors.Trace(err)
	}
	log.Info("replication group created",
		zap.String("groupID", string(info.ID)), zap.Stringer("scope", info.Scope()))

	var handles []*scheduler.Handle
	for i := 0; i < o.tables; i++ {
		name := fmt.Sprintf("%s_%d", baseTableName, i)
		cluster.CreateSourceTable(sourceNamespace, namespaceName, schemaName, name)
		var indexedTableID model.TableID
		if !o.wholeDatabase {
			indexedTableID = baseTarget.ID
		}
		table := cluster.CreateTargetTable(targetNamespace, namespaceName, schemaName, name, indexedTableID)
		hs, err := mgr.OnTableCreated(ctx, table)
		if err != nil {
			return errors.Trace(err)
		}
		handles = append(handles, hs...)
	}

	var firstErr error
	for _, h := range handles {
		if err := h.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	tasks := mgr.Tasks()
	reports := make([]taskReport, 0, len(tasks))
	for _, t := range tasks {
		r := taskReport{
			ID:      t.ID,
			GroupID: t.GroupID,
			Table:   t.Table,
			State:   t.State.String(),
			Step:    t.Step,
			Age:     t.Age.String(),
		}
		if t.Err != nil {
			r.Error = t.Err.Error()
		}
		reports = append(reports, r)
	}
	if err := util.JSONPrint(cmd, reports); err != nil {
		return errors.Trace(err)
	}

	if err := store.Delete(ctx, info.ID); err != nil {
		log.Warn("delete replication group failed", zap.String("groupID", string(info.ID)), zap.Error(err))
	}
	return errors.Trace(firstErr)
}

// NewCmdSimulate creates the `simulate` command.
func NewCmdSimulate() *cobra.Command {
	o := newOptions()
	command := &cobra.Command{
		Use:   "simulate",
		Short: "Run table admission against an in-process source cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return errors.Trace(err)
			}
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	return command
}
