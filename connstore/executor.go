// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package connstore

import (
	"context"
	"sync"

	"github.com/birotaio/californium/internal/workerpool"
)

// SerialExecutor is a single-producer FIFO of tasks for one Connection,
// draining one task at a time onto a shared workerpool.Pool. Submit
// never blocks on the task itself (only on enqueueing), and two tasks
// submitted for the same Connection never run concurrently — this is
// what lets record processing for a given peer stay lock-free while
// still sharing a bounded pool of goroutines across every peer.
type SerialExecutor struct {
	pool *workerpool.Pool

	mu       sync.Mutex
	queue    []func()
	draining bool
}

// NewSerialExecutor builds a SerialExecutor draining onto pool.
func NewSerialExecutor(pool *workerpool.Pool) *SerialExecutor {
	return &SerialExecutor{pool: pool}
}

// Submit enqueues fn and, if no drain loop is currently running for
// this executor, starts one in the background. ctx bounds each
// individual task's admission to the shared pool; a cancelled ctx
// drops the remainder of the queue rather than blocking forever.
func (e *SerialExecutor) Submit(ctx context.Context, fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	alreadyDraining := e.draining
	e.draining = true
	e.mu.Unlock()

	if !alreadyDraining {
		go e.drain(ctx)
	}
}

func (e *SerialExecutor) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		done := make(chan struct{})
		err := e.pool.Submit(ctx, func() {
			defer close(done)
			task()
		})
		if err != nil {
			// ctx was cancelled while waiting for a pool slot: the
			// connection is going away, so drop whatever's left
			// rather than spinning on a dead context.
			e.mu.Lock()
			e.queue = nil
			e.draining = false
			e.mu.Unlock()
			return
		}
		<-done
	}
}

// Pending reports how many tasks are queued and not yet started, for
// tests and store metrics; a task already running on the pool is not
// counted.
func (e *SerialExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}
