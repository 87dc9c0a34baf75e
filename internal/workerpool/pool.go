// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package workerpool implements the shared goroutine pool every
// connstore.Connection's SerialExecutor drains its next task onto.
// Concurrency is bounded by a weighted semaphore rather than a fixed
// number of long-lived goroutines, so a burst of per-connection
// submissions is admission-controlled instead of queuing unbounded
// goroutines in front of the OS scheduler.
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently executing tasks.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that admits at most maxConcurrent tasks at once.
func New(maxConcurrent int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Submit blocks until a slot is available (or ctx is cancelled), then
// runs fn in a new goroutine and returns immediately. Submit itself
// does not block on fn's completion.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// TryQueue returns false without blocking when no slot is immediately
// available, instead of waiting for one.
func (p *Pool) TryQueue(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return true
}

// Drain waits until every in-flight task has completed, or ctx is
// cancelled. The Connector's Stop does not call it: Stop waits only for
// the read loop, not for tasks still running on the pool.
func (p *Pool) Drain(ctx context.Context, capacity int64) error {
	if err := p.sem.Acquire(ctx, capacity); err != nil {
		return err
	}
	p.sem.Release(capacity)
	return nil
}
