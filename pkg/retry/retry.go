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

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/pingcap/errors"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
)

// Operation is one attempt of a retried action.
type Operation func() error

// Do runs operation until it succeeds, fails with an error that is not
// retryable, runs out of tries or ctx is done. Without options it makes 5
// attempts, waiting 20ms before the second one and at most 1s between two.
func Do(ctx context.Context, operation Operation, opts ...Option) error {
	o := newOptions(opts...)
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}

	var timer *time.Timer
	for try := 1; ; try++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !o.isRetryable(err) {
			return err
		}
		if try >= o.maxTries {
			return cerrors.ErrReachMaxTry.Wrap(err).GenWithStackByArgs(strconv.Itoa(o.maxTries), err)
		}

		delay := backoff(o.baseDelay, o.maxDelay, try)
		if timer == nil {
			timer = time.NewTimer(delay)
			defer timer.Stop()
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-timer.C:
		}
	}
}

// backoff returns the delay after the given failed attempt: the doubled base
// delay capped at maxDelay, of which a random upper half is used.
func backoff(base, maxDelay time.Duration, try int) time.Duration {
	ceiling := maxDelay
	if shift := try - 1; shift < 32 {
		if d := base << uint(shift); d > 0 && d < maxDelay {
			ceiling = d
		}
	}
	half := ceiling / 2
	if half <= 0 {
		return ceiling
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
