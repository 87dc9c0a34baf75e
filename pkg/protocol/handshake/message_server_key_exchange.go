// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/crypto/signaturehash"
	"github.com/birotaio/californium/pkg/protocol/extension"
)

// ECCurveType identifies how the curve that follows is described. Only
// NamedCurve is supported: explicit-prime and explicit-char2 curves are
// a spec Non-goal and are rejected by the handshaker on receipt.
type ECCurveType byte

// ECCurveType enums
const (
	ECCurveTypeExplicitPrime ECCurveType = 1
	ECCurveTypeExplicitChar2 ECCurveType = 2
	ECCurveTypeNamedCurve    ECCurveType = 3
)

// MessageServerKeyExchange carries the server's ephemeral ECDHE public
// point (for ECDHE suites) and, for ECDHE-ECDSA, a signature over
// client_random || server_random || curve_params || point. For plain-PSK
// suites it carries only an identity hint and IdentityHintOnly is set.
//
// https://tools.ietf.org/html/rfc4492#section-5.4
type MessageServerKeyExchange struct {
	IdentityHint []byte

	EllipticCurveType ECCurveType
	NamedCurve        extension.NamedCurve
	PublicKey         []byte

	HashAlgorithm      signaturehash.Hash
	SignatureAlgorithm signaturehash.Signature
	Signature          []byte

	// IdentityHintOnly distinguishes the PSK-only ServerKeyExchange
	// (identity hint, no ECDHE params) from the ECDHE-PSK/ECDHE-ECDSA
	// forms that carry curve parameters.
	IdentityHintOnly bool
}

// Type returns the Handshake Type
func (m MessageServerKeyExchange) Type() Type {
	return TypeServerKeyExchange
}

// Marshal encodes the Handshake
func (m *MessageServerKeyExchange) Marshal() ([]byte, error) {
	out := []byte{}

	if m.IdentityHintOnly {
		hintLen := make([]byte, 2)
		binary.BigEndian.PutUint16(hintLen, uint16(len(m.IdentityHint)))
		out = append(out, hintLen...)
		return append(out, m.IdentityHint...), nil
	}

	if len(m.IdentityHint) > 0 {
		hintLen := make([]byte, 2)
		binary.BigEndian.PutUint16(hintLen, uint16(len(m.IdentityHint)))
		out = append(out, hintLen...)
		out = append(out, m.IdentityHint...)
	}

	out = append(out, byte(ECCurveTypeNamedCurve))
	curveBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(curveBuf, uint16(m.NamedCurve))
	out = append(out, curveBuf...)

	out = append(out, byte(len(m.PublicKey)))
	out = append(out, m.PublicKey...)

	if len(m.Signature) > 0 {
		out = append(out, byte(m.HashAlgorithm), byte(m.SignatureAlgorithm))
		sigLen := make([]byte, 2)
		binary.BigEndian.PutUint16(sigLen, uint16(len(m.Signature)))
		out = append(out, sigLen...)
		out = append(out, m.Signature...)
	}

	return out, nil
}

// Unmarshal populates the message from encoded data
func (m *MessageServerKeyExchange) Unmarshal(data []byte) error {
	offset := 0

	// A plain-PSK ServerKeyExchange is exactly a 2-byte length prefix
	// followed by the identity hint and nothing else.
	if len(data) >= 2 {
		hintLen := int(binary.BigEndian.Uint16(data))
		if 2+hintLen == len(data) {
			m.IdentityHint = append([]byte{}, data[2:2+hintLen]...)
			m.IdentityHintOnly = true
			return nil
		}
	}

	if len(data) < 2 {
		return errBufferTooSmall
	}
	hintLen := int(binary.BigEndian.Uint16(data))
	offset += 2
	if hintLen > 0 {
		if len(data) < offset+hintLen {
			return errBufferTooSmall
		}
		m.IdentityHint = append([]byte{}, data[offset:offset+hintLen]...)
		offset += hintLen
	}

	if len(data) <= offset {
		return errBufferTooSmall
	}
	if ECCurveType(data[offset]) != ECCurveTypeNamedCurve {
		return errInvalidEllipticCurveType
	}
	offset++

	if len(data) < offset+2 {
		return errBufferTooSmall
	}
	m.NamedCurve = extension.NamedCurve(binary.BigEndian.Uint16(data[offset:]))
	offset += 2

	if len(data) <= offset {
		return errBufferTooSmall
	}
	pointLen := int(data[offset])
	offset++
	if len(data) < offset+pointLen {
		return errBufferTooSmall
	}
	m.PublicKey = append([]byte{}, data[offset:offset+pointLen]...)
	offset += pointLen

	if len(data) <= offset {
		return nil // ECDHE-PSK has no signature
	}

	m.HashAlgorithm = signaturehash.Hash(data[offset])
	m.SignatureAlgorithm = signaturehash.Signature(data[offset+1])
	offset += 2

	if len(data) < offset+2 {
		return errBufferTooSmall
	}
	sigLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if len(data) < offset+sigLen {
		return errBufferTooSmall
	}
	m.Signature = append([]byte{}, data[offset:offset+sigLen]...)
	return nil
}
