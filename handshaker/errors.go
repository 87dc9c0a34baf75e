// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import "errors"

var (
	// ErrPSKIdentityNotFound is returned by CredentialStore.LookupPSK
	// for an identity the store does not recognize.
	ErrPSKIdentityNotFound = errors.New("handshaker: psk identity not found")

	// ErrNoCertificates is returned by CredentialStore.OwnCertificate
	// when this side has no certificate configured (PSK-only).
	ErrNoCertificates = errors.New("handshaker: no certificate configured")

	// ErrHandshakeTimeout is the Handshaker's failure cause (Err) once
	// max_retransmissions is exhausted without progress, kept separate
	// from HandshakeFailure per spec.md §7. It is recorded on the
	// Handshaker only: no message callback or OnError fires for it, and
	// payloads queued behind the handshake stay queued.
	ErrHandshakeTimeout = errors.New("handshaker: timed out waiting for peer, max retransmissions reached")

	errUnexpectedMessage   = errors.New("handshaker: message not valid for current state")
	errUnsupportedCurve    = errors.New("handshaker: unsupported named curve")
	errCookieMismatch      = errors.New("handshaker: cookie verification failed")
	errNoCipherSuiteChosen = errors.New("handshaker: no cipher suite negotiated")
)
