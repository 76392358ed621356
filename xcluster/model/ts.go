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

package model

import (
	"fmt"
	"math"
	"time"

	"github.com/tikv/client-go/v2/oracle"
)

// Ts is a hybrid logical timestamp. The upper bits carry the physical time in
// milliseconds and the lower 18 bits carry a logical counter.
type Ts uint64

// special timestamps
const (
	MinTs     Ts = 0
	MaxTs     Ts = math.MaxUint64
	InvalidTs Ts = math.MaxUint64 - 1
)

// NewTs composes a timestamp from a wall clock time with a zero logical part.
func NewTs(t time.Time) Ts {
	return Ts(oracle.GoTimeToTS(t))
}

// IsSpecialTs reports whether ts is one of the sentinel values that cannot be
// compared against a real point in time.
func IsSpecialTs(ts Ts) bool {
	return ts == MinTs || ts == MaxTs || ts == InvalidTs
}

// IsSpecial is a shortcut of IsSpecialTs.
func (ts Ts) IsSpecial() bool {
	return IsSpecialTs(ts)
}

// Physical returns the physical part of ts.
func (ts Ts) Physical() time.Time {
	return oracle.GetTimeFromTS(uint64(ts))
}

// Logical returns the logical part of ts.
func (ts Ts) Logical() int64 {
	return oracle.ExtractLogical(uint64(ts))
}

// Next returns the smallest timestamp greater than ts.
func (ts Ts) Next() Ts {
	return ts + 1
}

func (ts Ts) String() string {
	switch ts {
	case MinTs:
		return "<min>"
	case MaxTs:
		return "<max>"
	case InvalidTs:
		return "<invalid>"
	}
	return fmt.Sprintf("{ physical: %d logical: %d }",
		oracle.ExtractPhysical(uint64(ts)), ts.Logical())
}

// MaxTsOf returns the larger one of the two timestamps.
func MaxTsOf(a, b Ts) Ts {
	if a > b {
		return a
	}
	return b
}

// LeaderEpoch identifies the term of the control plane leader issuing
// safe time requests.
type LeaderEpoch struct {
	Term int64 `json:"term"`
	PID  int   `json:"pid"`
}

func (e LeaderEpoch) String() string {
	return fmt.Sprintf("%d/%d", e.Term, e.PID)
}
