// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package session

import "errors"

var (
	// ErrSeqExhausted is returned by EncryptOutbound once the write
	// sequence number for the active epoch would overflow 48 bits
	// (RFC 6347 §4.1 mandates a fresh handshake rather than wrapping).
	ErrSeqExhausted = errors.New("session: sequence number exhausted, rehandshake required")

	// ErrReplayDropped is returned by DecryptInbound for a record whose
	// sequence number the anti-replay window has already accepted, or
	// which falls below the window. Callers must treat this as a silent
	// discard (RFC 6347 §4.1.2.7), not a fatal condition.
	ErrReplayDropped = errors.New("session: replayed or too-old record dropped")

	// ErrNoCipherSuite is returned by EncryptOutbound/DecryptInbound when
	// the record's epoch has no installed cipher suite yet. Callers
	// decrypting an inbound record at RemoteEpoch()+1 should treat this
	// as "not yet, defer" rather than a genuine failure (spec.md §4.D).
	ErrNoCipherSuite = errors.New("session: no cipher suite established for this epoch")
)
