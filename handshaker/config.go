// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import (
	"time"

	"github.com/pion/logging"

	"github.com/birotaio/californium/pkg/crypto/ciphersuite"
	"github.com/birotaio/californium/pkg/crypto/signaturehash"
)

// Default timeouts, per spec.md §5.
const (
	DefaultRetransmitInterval = 500 * time.Millisecond
	DefaultMaxRetransmissions = 2
)

// Config is the narrowed view of the root package's public Config that
// the handshaker actually needs — mirroring the teacher's
// Config/handshakeConfig split, where handshakeConfig is built once
// per handshake attempt from the long-lived public Config.
type Config struct {
	Role Role

	Credentials CredentialStore
	Clock       MonotonicClock
	Timers      TimerService
	Log         logging.LeveledLogger

	// Sessions caches completed Sessions for abbreviated resumption; nil
	// disables resumption and every handshake runs the full exchange.
	Sessions SessionCache

	CipherSuites     []ciphersuite.ID
	SignatureSchemes []signaturehash.Algorithm

	// LocalPSKIdentityHint is sent in ServerKeyExchange for PSK suites
	// to help the peer pick the right identity; may be nil.
	LocalPSKIdentityHint []byte

	RetransmitInterval time.Duration
	MaxRetransmissions int

	// Cookie validation happens entirely in the connector, before a
	// Handshaker is ever allocated (RFC 6347 §4.2.1) — the secret and
	// its rotation live on the root Connector, not here.

	ServerName string

	MTU int
}

func (c *Config) retransmitInterval() time.Duration {
	if c.RetransmitInterval > 0 {
		return c.RetransmitInterval
	}
	return DefaultRetransmitInterval
}

func (c *Config) maxRetransmissions() int {
	if c.MaxRetransmissions > 0 {
		return c.MaxRetransmissions
	}
	return DefaultMaxRetransmissions
}

func (c *Config) mtu() int {
	if c.MTU > 0 {
		return c.MTU
	}
	return 1200
}
