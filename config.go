// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package californium

import (
	"time"

	"github.com/pion/logging"

	"github.com/birotaio/californium/handshaker"
	"github.com/birotaio/californium/pkg/crypto/ciphersuite"
	"github.com/birotaio/californium/pkg/crypto/signaturehash"
)

// Default tunables, applied by validate when the corresponding
// field is left at its zero value.
const (
	DefaultMaxConnections         = 4096
	DefaultConnectionIdleTimeout  = 30 * time.Second
	DefaultConnectionStaleTimeout = 2 * time.Minute
	DefaultMaxConcurrentTasks     = 256
	DefaultMTU                    = 1200
	DefaultCookieSecretLifetime   = 10 * time.Minute
)

// Config aggregates everything a Connector needs: timeouts, transport
// MTU, the negotiable cipher suite list, and the external collaborator
// interfaces from spec.md §6. It follows the teacher's Config /
// handshakeConfig split — this struct is validated once by
// validate, then narrowed per handshake attempt into a
// *handshaker.Config by newHandshakerConfig.
type Config struct {
	// Credentials resolves PSK identities and certificate/RPK trust;
	// required.
	Credentials CredentialStore

	// Clock and Timers default to a monotonic wall-clock and an
	// AfterFunc-backed timer service when left nil.
	Clock  MonotonicClock
	Timers TimerService

	// Socket is the transport the Connector reads/writes through;
	// required.
	Socket UDPSocket

	// LoggerFactory defaults to logging.NewDefaultLoggerFactory when nil.
	LoggerFactory logging.LoggerFactory

	// Sessions enables abbreviated resumption when non-nil.
	Sessions SessionCache

	CipherSuites     []ciphersuite.ID
	SignatureSchemes []signaturehash.Algorithm

	LocalPSKIdentityHint []byte
	ServerName           string

	RetransmitInterval time.Duration
	MaxRetransmissions int
	MTU                int

	// MaxConnections bounds the connstore.Store's capacity.
	MaxConnections int

	// ConnectionIdleTimeout is how long a Connector without
	// ConnectionIdleTimeout-aware pruning keeps a Connection with
	// neither an established Session nor an in-progress Handshaker; the
	// Connector sweeps connstore.Store.EvictIdle off this same interval
	// (see sweepIdleConnections), so garbage is reclaimed without
	// waiting for LRU pressure to force it out.
	ConnectionIdleTimeout time.Duration

	// ConnectionStaleTimeout is the staleness threshold the store's LRU
	// eviction uses when it must make room for a new peer.
	ConnectionStaleTimeout time.Duration

	// MaxConcurrentTasks bounds the shared worker pool (internal/workerpool).
	MaxConcurrentTasks int

	// CookieSecret authenticates this server's HelloVerifyRequest
	// cookies; generated by NewConnector if left nil. It seeds the Connector's
	// rotating secret pair (see rotateCookieSecret) rather than staying
	// static for the Connector's lifetime.
	CookieSecret []byte

	// CookieSecretLifetime is how often the Connector replaces its
	// cookie secret; both the current and immediately preceding secret
	// are accepted, so a rotation never rejects a cookie stamped just
	// before it (spec.md §5, §9 design note (b)).
	CookieSecretLifetime time.Duration
}

func (c *Config) validate() error {
	if c.Credentials == nil {
		return &InternalError{Reason: "Config.Credentials is required"}
	}
	if c.Socket == nil {
		return &InternalError{Reason: "Config.Socket is required"}
	}
	if len(c.CipherSuites) == 0 {
		c.CipherSuites = ciphersuite.AllSupported()
	}
	if c.Clock == nil {
		c.Clock = newSystemClock()
	}
	if c.Timers == nil {
		c.Timers = newAfterFuncTimer()
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ConnectionIdleTimeout <= 0 {
		c.ConnectionIdleTimeout = DefaultConnectionIdleTimeout
	}
	if c.ConnectionStaleTimeout <= 0 {
		c.ConnectionStaleTimeout = DefaultConnectionStaleTimeout
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
	if c.CookieSecretLifetime <= 0 {
		c.CookieSecretLifetime = DefaultCookieSecretLifetime
	}
	return nil
}

// newHandshakerConfig narrows the long-lived Config into the
// per-attempt *handshaker.Config, role-specific logger included.
func (c *Config) newHandshakerConfig(role handshaker.Role, log logging.LeveledLogger) *handshaker.Config {
	return &handshaker.Config{
		Role:                 role,
		Credentials:          c.Credentials,
		Clock:                c.Clock,
		Log:                  log,
		Sessions:             c.Sessions,
		CipherSuites:         c.CipherSuites,
		SignatureSchemes:     c.SignatureSchemes,
		LocalPSKIdentityHint: c.LocalPSKIdentityHint,
		RetransmitInterval:   c.RetransmitInterval,
		MaxRetransmissions:   c.MaxRetransmissions,
		ServerName:           c.ServerName,
		MTU:                  c.MTU,
	}
}
