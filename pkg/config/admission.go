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

package config

import (
	"time"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
)

// AdmissionConfig configures the tasks that add newly created tables to
// running xCluster replication groups.
type AdmissionConfig struct {
	// ScheduleDelay is the fixed delay between polls of a slow remote operation.
	ScheduleDelay TomlDuration `toml:"schedule-delay" json:"schedule-delay"`
	// TaskTimeout bounds a whole admission task. It is owned by the table
	// creation workflow; the task itself has no step budget.
	TaskTimeout TomlDuration `toml:"task-timeout" json:"task-timeout"`
	// WorkerNum is the number of goroutines running task steps.
	WorkerNum int `toml:"worker-num" json:"worker-num"`
	// SafeTimeWarnInterval rate limits the "waiting for safe time" warning.
	SafeTimeWarnInterval TomlDuration `toml:"safe-time-warn-interval" json:"safe-time-warn-interval"`
}

// read only
var defaultAdmissionConfig = &AdmissionConfig{
	ScheduleDelay:        TomlDuration(200 * time.Millisecond),
	TaskTimeout:          TomlDuration(5 * time.Minute),
	WorkerNum:            8,
	SafeTimeWarnInterval: TomlDuration(10 * time.Second),
}

const (
	minScheduleDelay = 10 * time.Millisecond
	maxScheduleDelay = 10 * time.Second
)

// GetDefaultAdmissionConfig returns a copy of the default admission config.
func GetDefaultAdmissionConfig() *AdmissionConfig {
	c := *defaultAdmissionConfig
	return &c
}

// ValidateAndAdjust validates and adjusts the admission configuration
func (c *AdmissionConfig) ValidateAndAdjust() error {
	if c.ScheduleDelay == 0 {
		c.ScheduleDelay = defaultAdmissionConfig.ScheduleDelay
	}
	if d := time.Duration(c.ScheduleDelay); d < minScheduleDelay || d > maxScheduleDelay {
		return cerrors.ErrInvalidServerOption.GenWithStackByArgs(
			"admission schedule-delay must be within [10ms, 10s]")
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = defaultAdmissionConfig.TaskTimeout
	}
	if c.TaskTimeout < c.ScheduleDelay {
		return cerrors.ErrInvalidServerOption.GenWithStackByArgs(
			"admission task-timeout must not be smaller than schedule-delay")
	}
	if c.WorkerNum <= 0 {
		c.WorkerNum = defaultAdmissionConfig.WorkerNum
	}
	if c.SafeTimeWarnInterval <= 0 {
		c.SafeTimeWarnInterval = defaultAdmissionConfig.SafeTimeWarnInterval
	}
	return nil
}
