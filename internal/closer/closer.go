// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package closer provides a one-shot, idempotent shutdown signal shared
// by the connector's receiver, timer, and worker-pool goroutines.
package closer

import "sync"

// Closer is closed exactly once; Done returns a channel every
// goroutine that needs to observe shutdown can select on.
type Closer struct {
	once sync.Once
	done chan struct{}
}

// NewCloser allocates a Closer in the open state.
func NewCloser() *Closer {
	return &Closer{done: make(chan struct{})}
}

// Close signals shutdown. Safe to call more than once or concurrently.
func (c *Closer) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done returns a channel closed once Close has been called.
func (c *Closer) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether Close has been called.
func (c *Closer) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
