// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package crypto collects the small stateless cryptographic helpers
// shared across the handshake and record layers that do not warrant
// their own subpackage.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// CookieLength is the size of the HMAC-SHA256-derived cookie this
// connector issues in HelloVerifyRequest (RFC 6347 §4.2.1).
const CookieLength = sha256.Size

// GenerateCookie computes the stateless HelloVerifyRequest cookie for
// a client address and ClientHello body, HMACed under a server secret
// that is never transmitted. Recomputing this from the same inputs
// lets the server validate a returned cookie without keeping any
// per-client state before the second ClientHello arrives.
func GenerateCookie(secret, clientAddr, clientHelloBody []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(clientAddr)       //nolint:errcheck
	mac.Write(clientHelloBody) //nolint:errcheck
	return mac.Sum(nil)
}

// ValidateCookie reports whether cookie is the correct HMAC for the
// given address and ClientHello body under secret.
func ValidateCookie(secret, clientAddr, clientHelloBody, cookie []byte) bool {
	expected := GenerateCookie(secret, clientAddr, clientHelloBody)
	return hmac.Equal(expected, cookie)
}
