// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package connstore holds the bounded, address-keyed table of
// in-progress and established DTLS peers (DATA MODEL §3's
// "Connection"), and the per-connection serial executor that
// guarantees a peer's records are processed one at a time without a
// per-connection lock.
package connstore

import (
	"net"
	"sync/atomic"

	"github.com/birotaio/californium/handshaker"
	"github.com/birotaio/californium/internal/workerpool"
	"github.com/birotaio/californium/session"
)

// Connection is exactly one per remote address: an optional
// established Session, an optional in-progress Handshaker (the two
// coexist only while a resumption attempt races an already-established
// session), and the serial executor that any caller touching this
// Connection's state must route through.
//
// The Handshaker never holds a pointer back to its Connection — per
// spec.md §9's cyclic-reference note, it only knows the peer's
// net.Addr (passed at construction) and is looked back up through the
// Store by whatever code needs to publish an event to "the Connection
// for this address". That keeps ownership one-directional: Connection
// -> Handshaker, never the reverse.
type Connection struct {
	Addr net.Addr

	Session    *session.Session
	Handshaker *handshaker.Handshaker

	// HandshakeSession is non-nil only while Handshaker drives a
	// handshake that races an already-established Session (RFC 6347
	// §4.2.8: a peer may restart with a fresh ClientHello before the
	// original session is torn down). Session keeps answering Send and
	// decrypting ApplicationData throughout; once Handshaker reaches
	// ESTABLISHED, HandshakeSession is promoted to Session and cleared.
	HandshakeSession *session.Session

	Executor *SerialExecutor

	lastActivityNanos int64
}

// NewConnection builds a Connection for addr with its own serial
// executor draining onto pool. Session and Handshaker start nil; the
// caller attaches whichever is relevant (a fresh Handshaker for a
// handshake attempt, later replaced by a Session once established).
func NewConnection(addr net.Addr, pool *workerpool.Pool) *Connection {
	return &Connection{
		Addr:     addr,
		Executor: NewSerialExecutor(pool),
	}
}

// touch records activity now, per the clock the Store was built with.
func (c *Connection) touch(nowNanos int64) {
	atomic.StoreInt64(&c.lastActivityNanos, nowNanos)
}

// lastActivity returns the last-touch timestamp in clock nanoseconds.
func (c *Connection) lastActivity() int64 {
	return atomic.LoadInt64(&c.lastActivityNanos)
}

// Idle reports whether this Connection holds neither an established
// Session nor an in-progress Handshaker — spec.md §3's "garbage,
// evict" condition.
func (c *Connection) Idle() bool {
	return c.Session == nil && c.Handshaker == nil
}

// Established reports whether this Connection has a Session that
// finished its handshake.
func (c *Connection) Established() bool {
	return c.Session != nil && (c.Handshaker == nil || c.Handshaker.Established() || c.HandshakeSession != nil)
}
