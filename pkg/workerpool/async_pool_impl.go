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

package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/pkg/retry"
)

const (
	// A pool that is not running yet, or restarting, is waited for briefly.
	submitRetryDelay    = time.Millisecond
	submitRetryMaxDelay = 20 * time.Millisecond
	submitMaxTries      = 25

	workerQueueSize = 1024
)

// asyncPool spreads jobs over a fixed set of workers round robin. The
// workers live for one Run call.
type asyncPool struct {
	workerNum int
	next      atomic.Uint32

	mu      sync.RWMutex
	running bool
	workers []*worker
}

// NewDefaultAsyncPool creates an AsyncPool running at most workerNum jobs at
// the same time.
func NewDefaultAsyncPool(workerNum int) AsyncPool {
	return newAsyncPool(workerNum)
}

func newAsyncPool(workerNum int) *asyncPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	return &asyncPool{workerNum: workerNum}
}

// Go implements AsyncPool.
func (p *asyncPool) Go(ctx context.Context, f func()) error {
	err := p.submit(ctx, f)
	if err == nil || !cerrors.Is(err, cerrors.ErrAsyncPoolExited) {
		return err
	}
	return errors.Trace(retry.Do(ctx, func() error {
		return p.submit(ctx, f)
	}, retry.WithBaseDelay(submitRetryDelay),
		retry.WithMaxDelay(submitRetryMaxDelay),
		retry.WithMaxTries(submitMaxTries),
		retry.WithIsRetryableErr(func(err error) bool {
			return cerrors.Is(err, cerrors.ErrAsyncPoolExited)
		})))
}

func (p *asyncPool) submit(ctx context.Context, f func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return cerrors.ErrAsyncPoolExited.GenWithStackByArgs()
	}
	w := p.workers[int(p.next.Inc())%len(p.workers)]
	return w.push(ctx, f)
}

// Run implements AsyncPool. Jobs accepted before ctx is done still run
// before Run returns.
func (p *asyncPool) Run(ctx context.Context) error {
	workers := make([]*worker, p.workerNum)
	for i := range workers {
		workers[i] = &worker{queue: make(chan func(), workerQueueSize)}
	}
	p.mu.Lock()
	p.workers = workers
	p.running = true
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run()
		}(w)
	}

	<-ctx.Done()
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	for _, w := range workers {
		w.close()
	}
	wg.Wait()
	return errors.Trace(ctx.Err())
}

type worker struct {
	queue chan func()

	mu     sync.RWMutex
	closed bool
}

func (w *worker) push(ctx context.Context, f func()) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return cerrors.ErrAsyncPoolExited.GenWithStackByArgs()
	}
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case w.queue <- f:
		return nil
	}
}

func (w *worker) run() {
	for f := range w.queue {
		f()
	}
}

func (w *worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
}
