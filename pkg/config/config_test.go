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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
)

func TestAdmissionConfigValidateAndAdjust(t *testing.T) {
	t.Parallel()

	c := &AdmissionConfig{}
	require.NoError(t, c.ValidateAndAdjust())
	require.Equal(t, defaultAdmissionConfig, c)

	c = &AdmissionConfig{ScheduleDelay: TomlDuration(time.Millisecond)}
	require.ErrorContains(t, c.ValidateAndAdjust(), "schedule-delay")

	c = &AdmissionConfig{
		ScheduleDelay: TomlDuration(time.Second),
		TaskTimeout:   TomlDuration(100 * time.Millisecond),
	}
	require.ErrorContains(t, c.ValidateAndAdjust(), "task-timeout")

	// the default value is never shared with callers
	c = GetDefaultAdmissionConfig()
	c.WorkerNum = 1
	require.Equal(t, 8, defaultAdmissionConfig.WorkerNum)
}

func TestLoadServerConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
metrics-addr = "0.0.0.0:9000"

[log]
level = "debug"

[admission]
schedule-delay = "300ms"
task-timeout = "1m"
worker-num = 2

[etcd]
endpoints = ["http://127.0.0.1:2379"]
key-prefix = "/test/"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.MetricsAddr)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, TomlDuration(300*time.Millisecond), cfg.Admission.ScheduleDelay)
	require.Equal(t, TomlDuration(time.Minute), cfg.Admission.TaskTimeout)
	require.Equal(t, 2, cfg.Admission.WorkerNum)
	require.Equal(t, defaultAdmissionConfig.SafeTimeWarnInterval, cfg.Admission.SafeTimeWarnInterval)
	require.Equal(t, []string{"http://127.0.0.1:2379"}, cfg.Etcd.Endpoints)
	require.Equal(t, "/test", cfg.Etcd.KeyPrefix)
	require.Equal(t, defaultEtcdConfig.DialTimeout, cfg.Etcd.DialTimeout)
}

func TestLoadServerConfigUnknownItem(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[admission]\nunknown-item = 1\n"), 0o644))

	_, err := LoadServerConfig(path)
	require.ErrorContains(t, err, "contained unknown configuration options: admission.unknown-item")
}

func TestLoadServerConfigDefault(t *testing.T) {
	t.Parallel()

	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultMetricsAddr, cfg.MetricsAddr)
	require.Equal(t, "info", cfg.Log.Level)
	require.Empty(t, cfg.Etcd.Endpoints)
}

func TestTomlDuration(t *testing.T) {
	t.Parallel()

	var d TomlDuration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, TomlDuration(90*time.Second), d)
	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))
	require.Error(t, d.UnmarshalText([]byte("abc")))
}

func TestEtcdConfigEndpoints(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{
		"",
		"\n hi",
		"http://",
		"https://",
		"postgres://postgres@localhost/cargo_registry",
	} {
		c := &EtcdConfig{Endpoints: []string{"http://127.0.0.1:2379", endpoint}}
		err := c.ValidateAndAdjust()
		require.True(t, cerrors.Is(err, cerrors.ErrInvalidServerOption), endpoint)
	}

	c := &EtcdConfig{Endpoints: []string{"http://127.0.0.1:2379", "https://etcd:2379"}}
	require.NoError(t, c.ValidateAndAdjust())
	require.Equal(t, defaultEtcdConfig.KeyPrefix, c.KeyPrefix)
}
