// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package californium

import (
	"errors"
	"fmt"

	"github.com/birotaio/californium/pkg/protocol/alert"
)

// DecodeError reports a wire-decoding failure with the byte offset at
// which the codec gave up, mirroring the positional errors the wire
// codec packages already return.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("californium: decode error at offset %d: %s", e.Offset, e.Reason)
}

// HandshakeTimeoutError wraps handshaker.ErrHandshakeTimeout with the
// peer address the timed-out attempt was for.
type HandshakeTimeoutError struct {
	Addr string
	Err  error
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("californium: handshake with %s timed out: %v", e.Addr, e.Err)
}

func (e *HandshakeTimeoutError) Unwrap() error { return e.Err }

// HandshakeFailureError reports a handshake abandoned for a reason
// other than a timeout: a fatal alert from the peer, or a local
// validation failure (bad cookie, unresolvable PSK identity, ...).
type HandshakeFailureError struct {
	Addr  string
	Alert *alert.Alert
	Err   error
}

func (e *HandshakeFailureError) Error() string {
	if e.Alert != nil {
		return fmt.Sprintf("californium: handshake with %s failed: %v (%v)", e.Addr, e.Err, e.Alert)
	}
	return fmt.Sprintf("californium: handshake with %s failed: %v", e.Addr, e.Err)
}

func (e *HandshakeFailureError) Unwrap() error { return e.Err }

// PeerClosedError reports that a peer's alert tore the Connection down
// (a CloseNotify, or any fatal alert received rather than sent).
type PeerClosedError struct {
	Addr   string
	Reason *alert.Alert
}

func (e *PeerClosedError) Error() string {
	return fmt.Sprintf("californium: peer %s closed the connection: %v", e.Addr, e.Reason)
}

// IOError wraps a failure from the UDPSocket collaborator.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("californium: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// InternalError reports a condition the connector considers a bug
// (e.g. a Connection found Established with a nil Session) rather than
// a peer- or network-caused failure.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "californium: internal error: " + e.Reason }

var (
	// ErrBadRecordMAC is returned when a record fails AEAD/MAC
	// authentication during decryption.
	ErrBadRecordMAC = errors.New("californium: bad record MAC")

	// ErrReplayDropped is returned (and otherwise silently absorbed,
	// per RFC 6347 §4.1.2.7) for a record the anti-replay window has
	// already rejected.
	ErrReplayDropped = errors.New("californium: replayed or too-old record dropped")

	// ErrConnectionStoreFull is returned by Connector.Send/receive
	// handling when a new peer cannot be admitted because the store is
	// at capacity and nothing is stale enough to evict.
	ErrConnectionStoreFull = errors.New("californium: connection store is full")

	// ErrConnectorClosed is returned by Send/Receive once Stop or
	// Destroy has run.
	ErrConnectorClosed = errors.New("californium: connector is closed")

	// ErrNotEstablished is returned by Send when no established Session
	// exists yet for the given address.
	ErrNotEstablished = errors.New("californium: no established session for this address")
)
