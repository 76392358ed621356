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
	"github.com/prometheus/client_golang/prometheus"
)

var safeTimeLagGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "xcluster",
		Subsystem: "safe_time",
		Name:      "lag_seconds",
		Help:      "Lag between the current time and the xCluster safe time of a namespace.",
	}, []string{"namespace"})

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(safeTimeLagGauge)
}
