// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/crypto/signaturehash"
)

// MessageCertificateVerify carries a client's signature over the
// running handshake hash, proving possession of the private key behind
// the Certificate it just sent. Only present for client-auth (ECDHE-ECDSA
// with mutual authentication).
//
// https://tools.ietf.org/html/rfc5246#section-7.4.8
type MessageCertificateVerify struct {
	HashAlgorithm      signaturehash.Hash
	SignatureAlgorithm signaturehash.Signature
	Signature          []byte
}

// Type returns the Handshake Type
func (m MessageCertificateVerify) Type() Type {
	return TypeCertificateVerify
}

// Marshal encodes the Handshake
func (m *MessageCertificateVerify) Marshal() ([]byte, error) {
	out := []byte{byte(m.HashAlgorithm), byte(m.SignatureAlgorithm)}
	sigLen := make([]byte, 2)
	binary.BigEndian.PutUint16(sigLen, uint16(len(m.Signature)))
	out = append(out, sigLen...)
	return append(out, m.Signature...), nil
}

// Unmarshal populates the message from encoded data
func (m *MessageCertificateVerify) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return errBufferTooSmall
	}
	m.HashAlgorithm = signaturehash.Hash(data[0])
	m.SignatureAlgorithm = signaturehash.Signature(data[1])
	sigLen := int(binary.BigEndian.Uint16(data[2:]))
	if len(data) < 4+sigLen {
		return errBufferTooSmall
	}
	m.Signature = append([]byte{}, data[4:4+sigLen]...)
	return nil
}
