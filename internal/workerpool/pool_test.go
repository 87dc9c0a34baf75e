// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	pool := New(2)
	var ran int32
	done := make(chan struct{})
	err := pool.Submit(context.Background(), func() {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("task did not set ran flag")
	}
}

func TestTryQueueRespectsBound(t *testing.T) {
	pool := New(1)
	block := make(chan struct{})
	started := make(chan struct{})
	if !pool.TryQueue(func() {
		close(started)
		<-block
	}) {
		t.Fatal("first TryQueue should succeed")
	}
	<-started

	if pool.TryQueue(func() {}) {
		t.Fatal("second TryQueue should be rejected while pool is saturated")
	}
	close(block)

	if err := pool.Drain(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
}
