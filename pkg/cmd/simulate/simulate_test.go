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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/phayes/freeport"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "xcluster-target.toml")
	content := fmt.Sprintf(`
metrics-addr = "127.0.0.1:%d"

[log]
level = "warn"

[admission]
schedule-delay = "10ms"
task-timeout = "30s"
worker-num = 2
`, port)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSimulate(t *testing.T) {
	for _, wholeDatabase := range []bool{false, true} {
		path := writeConfig(t)
		cmd := NewCmdSimulate()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{
			"--config", path,
			"--log-level", "error",
			"--tables", "2",
			"--latency", "5ms",
			"--lag", "0s",
			fmt.Sprintf("--whole-database=%t", wholeDatabase),
		})
		require.NoError(t, cmd.Execute())

		var reports []taskReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &reports))
		require.Len(t, reports, 2)
		for _, r := range reports {
			require.Equal(t, "complete", r.State, r.Error)
			require.Empty(t, r.Error)
		}
	}
}

func TestSimulateInvalidLogLevel(t *testing.T) {
	cmd := NewCmdSimulate()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", writeConfig(t), "--log-level", "verbose"})
	err := cmd.Execute()
	require.ErrorContains(t, err, `invalid log level "verbose"`)
}

func TestValidateOptions(t *testing.T) {
	t.Parallel()

	o := newOptions()
	require.Error(t, o.validate())
	o.tables = 1
	require.NoError(t, o.validate())
	o.lag = -1
	require.Error(t, o.validate())
}
