// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import (
	"crypto/rand"

	"github.com/birotaio/californium/pkg/crypto"
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/alert"
	"github.com/birotaio/californium/pkg/protocol/handshake"
)

// clientHelloBodyForCookie re-marshals a ClientHello with its Cookie
// field cleared, since the cookie HMAC covers the hello as the client
// originally sent it sans cookie (RFC 6347 §4.2.1).
func clientHelloBodyForCookie(m *handshake.MessageClientHello) ([]byte, error) {
	stripped := *m
	stripped.Cookie = nil
	return stripped.Marshal()
}

// ValidateClientHello reports whether ch carries a cookie matching addr
// under any of secrets, so the caller can decide whether to allocate a
// Connection for it or answer with another HelloVerifyRequest. This is
// stateless and runs before any Handshaker or Connection exists.
//
// secrets ordinarily holds the server's current cookie secret plus its
// immediately preceding one (spec.md §9 design note (b)): a secret
// rotates periodically, and a ClientHello whose cookie was stamped just
// before a rotation must still validate rather than forcing the peer
// back through HelloVerifyRequest.
func ValidateClientHello(secrets [][]byte, addr []byte, ch *handshake.MessageClientHello) bool {
	if len(ch.Cookie) == 0 {
		return false
	}
	body, err := clientHelloBodyForCookie(ch)
	if err != nil {
		return false
	}
	for _, secret := range secrets {
		if len(secret) == 0 {
			continue
		}
		if crypto.ValidateCookie(secret, addr, body, ch.Cookie) {
			return true
		}
	}
	return false
}

// GenerateHelloVerifyRequest computes the HelloVerifyRequest a server
// sends in response to a cookie-less (or invalid-cookie) ClientHello.
func GenerateHelloVerifyRequest(secret, addr []byte, ch *handshake.MessageClientHello) (*handshake.MessageHelloVerifyRequest, error) {
	body, err := clientHelloBodyForCookie(ch)
	if err != nil {
		return nil, err
	}
	cookie := crypto.GenerateCookie(secret, addr, body)
	return &handshake.MessageHelloVerifyRequest{
		Version: protocol.Version1_2,
		Cookie:  cookie,
	}, nil
}

// RefuseRenegotiation answers an in-session ClientHello or HelloRequest
// (RFC 5746 §4.2/4.3: this connector never renegotiates) with the
// warning alert that tells the peer to leave the existing session
// alone.
func RefuseRenegotiation() *alert.Alert {
	return &alert.Alert{Level: alert.Warning, Description: alert.NoRenegotiation}
}

func randomSessionID() ([]byte, error) {
	id := make([]byte, 32)
	_, err := rand.Read(id)
	return id, err
}
