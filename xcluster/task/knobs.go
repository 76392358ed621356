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

// TestingKnobs inject faults into an AddTableTask. Production code uses NoopKnobs.
type TestingKnobs interface {
	// FailBootstrap fails the task before any remote call.
	FailBootstrap() bool
	// AbandonBeforeBootstrap leaves the task stuck before any remote call.
	AbandonBeforeBootstrap() bool
}

// NoopKnobs injects nothing.
type NoopKnobs struct{}

// FailBootstrap implements TestingKnobs.
func (NoopKnobs) FailBootstrap() bool { return false }

// AbandonBeforeBootstrap implements TestingKnobs.
func (NoopKnobs) AbandonBeforeBootstrap() bool { return false }
