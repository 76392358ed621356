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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	taskStartedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xcluster",
			Subsystem: "scheduler",
			Name:      "task_started_total",
			Help:      "Number of submitted tasks.",
		})
	taskFinishedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xcluster",
			Subsystem: "scheduler",
			Name:      "task_finished_total",
			Help:      "Number of finished tasks by result.",
		}, []string{"result"})
	taskDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xcluster",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Bucketed histogram of the time from submission to the end of a task.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"result"})
	droppedStepCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xcluster",
			Subsystem: "scheduler",
			Name:      "dropped_step_total",
			Help:      "Number of steps discarded because their task had already finished.",
		})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(taskStartedCounter)
	registry.MustRegister(taskFinishedCounter)
	registry.MustRegister(taskDurationHistogram)
	registry.MustRegister(droppedStepCounter)
}
