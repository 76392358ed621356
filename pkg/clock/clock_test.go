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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestMockAfterFunc(t *testing.T) {
	t.Parallel()

	clk := NewMockAt(time.Unix(1700000000, 0))
	var fired atomic.Bool
	clk.AfterFunc(200*time.Millisecond, func() {
		fired.Store(true)
	})

	clk.Add(199 * time.Millisecond)
	require.False(t, fired.Load())
	clk.Add(time.Millisecond)
	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestMono(t *testing.T) {
	t.Parallel()

	clk := NewMock()
	start := clk.Mono()
	clk.Add(time.Second)
	require.Equal(t, time.Second, clk.Mono().Sub(start))

	// wall-clock jumps of the mock move its monotonic reading too
	clk.Set(time.Unix(10, 0))
	require.Equal(t, MonotonicTime(10*time.Second), clk.Mono())

	sys := New()
	a := sys.Mono()
	b := sys.Mono()
	require.GreaterOrEqual(t, b.Sub(a), time.Duration(0))
}
