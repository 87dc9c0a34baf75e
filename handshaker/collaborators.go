// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import (
	"time"

	"github.com/birotaio/californium/session"
)

// CredentialStore is the external collaborator spec.md §6 names for
// PSK/certificate lookups: a remote or slow backing store is
// explicitly anticipated (E4's injected-latency PSK lookup), so every
// method takes no context and is expected to be called off the
// caller's hot path (the handshaker invokes it from a worker-pool
// task, never from the timer goroutine).
type CredentialStore interface {
	// LookupPSK resolves a PSK identity to its secret. A not-found
	// identity returns ErrPSKIdentityNotFound.
	LookupPSK(identity []byte) ([]byte, error)

	// VerifyCertChain validates a peer certificate chain, optionally
	// against an expected hostname (empty if none was negotiated via SNI).
	VerifyCertChain(chain [][]byte, hostname string) error

	// TrustedRPKs returns the raw public keys this side accepts from a
	// peer authenticating via RFC 7250 raw public keys.
	TrustedRPKs() [][]byte

	// OwnCertificate returns this side's certificate chain and private
	// key for ECDHE-ECDSA authentication. ErrNoCertificates if this
	// side only does PSK.
	OwnCertificate() (chain [][]byte, privateKey []byte, err error)
}

// MonotonicClock is the external clock collaborator. The connection
// store reads its activity timestamps through it; the Handshaker does
// not read it (the randoms' gmt_unix_time comes from time.Now()).
type MonotonicClock interface {
	NowNanos() int64
}

// TimerHandle is returned by TimerService.ScheduleAfter and passed
// back to Cancel.
type TimerHandle interface{}

// TimerService is the external collaborator that arms and disarms the
// per-flight retransmission timer. Retransmission must keep working
// while a credential lookup is blocked (E4), so the timer is owned by
// this service, never by the task performing the lookup.
type TimerService interface {
	ScheduleAfter(d time.Duration, task func()) TimerHandle
	Cancel(handle TimerHandle)
}

// SessionCache is the external collaborator behind abbreviated
// resumption (spec.md §4.E, RFC 5246 §7.3): a completed Session is
// offered to it under its session ID, and a later ClientHello quoting
// that ID can retrieve the cached master secret instead of running a
// full key exchange.
type SessionCache interface {
	Get(sessionID []byte) (*session.Session, bool)
	Put(sess *session.Session)
}
