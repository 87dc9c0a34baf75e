// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package elliptic implements ECDHE key generation and shared-secret
// derivation for the named curves this connector negotiates. Explicit
// curve encodings (explicit-prime, explicit-char2) are a spec Non-goal
// and are never emitted or accepted.
package elliptic

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/birotaio/californium/pkg/protocol/extension"
)

// Curve identifies a named elliptic curve usable for ECDHE.
type Curve = extension.NamedCurve

// Curve values this connector supports.
const (
	X25519 = extension.NamedCurveX25519
	P256   = extension.NamedCurveP256
	P384   = extension.NamedCurveP384
)

func ecdhCurve(c Curve) (ecdh.Curve, error) {
	switch c {
	case X25519:
		return ecdh.X25519(), nil
	case P256:
		return ecdh.P256(), nil
	case P384:
		return ecdh.P384(), nil
	default:
		return nil, fmt.Errorf("elliptic: unsupported named curve %d", c)
	}
}

// GenerateKeypair generates an ephemeral ECDHE keypair on the given
// curve, returning the private key and its uncompressed point encoding.
func GenerateKeypair(c Curve) (private []byte, public []byte, err error) {
	curve, err := ecdhCurve(c)
	if err != nil {
		return nil, nil, err
	}
	key, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return key.Bytes(), key.PublicKey().Bytes(), nil
}

// SharedSecret derives the ECDHE pre-master secret from a local private
// key and the peer's encoded public point.
func SharedSecret(c Curve, private, peerPublic []byte) ([]byte, error) {
	curve, err := ecdhCurve(c)
	if err != nil {
		return nil, err
	}
	priv, err := curve.NewPrivateKey(private)
	if err != nil {
		return nil, err
	}
	pub, err := curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, err
	}
	return priv.ECDH(pub)
}
