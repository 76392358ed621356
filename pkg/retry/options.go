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

package retry

import "time"

// Defaults suit replication group store writes, which conflict with each
// other for a few milliseconds at a time.
const (
	defaultBaseDelay = 20 * time.Millisecond
	defaultMaxDelay  = time.Second
	defaultMaxTries  = 5
)

// Option tunes a Do call.
type Option func(*options)

// IsRetryableErr reports whether another attempt may succeed after err.
type IsRetryableErr func(error) bool

type options struct {
	maxTries    int
	baseDelay   time.Duration
	maxDelay    time.Duration
	isRetryable IsRetryableErr
}

func newOptions(opts ...Option) *options {
	o := &options{
		maxTries:    defaultMaxTries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		isRetryable: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxDelay < o.baseDelay {
		o.maxDelay = o.baseDelay
	}
	return o
}

// WithBaseDelay sets the delay before the second attempt. Later delays
// double until they reach the max delay.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

// WithMaxDelay caps the delay between two attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

// WithMaxTries sets how many attempts are made in total.
func WithMaxTries(tries int) Option {
	return func(o *options) {
		if tries > 0 {
			o.maxTries = tries
		}
	}
}

// WithIsRetryableErr sets the filter of retryable errors. Every error is
// retried by default.
func WithIsRetryableErr(f IsRetryableErr) Option {
	return func(o *options) {
		if f != nil {
			o.isRetryable = f
		}
	}
}
