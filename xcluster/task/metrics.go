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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stepDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xcluster",
			Subsystem: "add_table_task",
			Name:      "step_duration_seconds",
			Help:      "Bucketed histogram of the duration of a single task step.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
		}, []string{"step"})
	pollCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xcluster",
			Subsystem: "add_table_task",
			Name:      "poll_total",
			Help:      "Number of polls issued by waiting steps.",
		}, []string{"step"})
	safeTimeWaitLagGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "xcluster",
			Subsystem: "add_table_task",
			Name:      "safe_time_wait_lag_seconds",
			Help:      "How far the observed safe time is behind the time a task waits for.",
		}, []string{"group", "table"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(stepDurationHistogram)
	registry.MustRegister(pollCounter)
	registry.MustRegister(safeTimeWaitLagGauge)
}
