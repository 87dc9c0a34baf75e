// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

import "encoding/binary"

// MessageClientKeyExchange carries the client's half of the key
// exchange: an ECDHE public point (ECDHE-PSK, ECDHE-ECDSA), a PSK
// identity (plain PSK), or both (ECDHE-PSK also carries IdentityHint).
//
// https://tools.ietf.org/html/rfc5246#section-7.4.7
// https://tools.ietf.org/html/rfc5489#section-2 (ECDHE_PSK)
type MessageClientKeyExchange struct {
	IdentityHint []byte
	PublicKey    []byte
}

// Type returns the Handshake Type
func (m MessageClientKeyExchange) Type() Type {
	return TypeClientKeyExchange
}

// Marshal encodes the Handshake
func (m *MessageClientKeyExchange) Marshal() ([]byte, error) {
	out := []byte{}
	if m.IdentityHint != nil {
		hintLen := make([]byte, 2)
		binary.BigEndian.PutUint16(hintLen, uint16(len(m.IdentityHint)))
		out = append(out, hintLen...)
		out = append(out, m.IdentityHint...)
	}
	if m.PublicKey != nil {
		out = append(out, byte(len(m.PublicKey)))
		out = append(out, m.PublicKey...)
	}
	return out, nil
}

// Unmarshal populates the message from encoded data. It does not know
// the negotiated cipher suite and applies one generic rule: a leading
// 2-byte length whose declared size consumes the entire remaining
// buffer is a PSK identity; a 2-byte length that leaves bytes over is a
// PSK identity followed by a 1-byte-length EC point; otherwise a
// leading 1-byte length is an EC point.
func (m *MessageClientKeyExchange) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errBufferTooSmall
	}
	if len(data) >= 2 {
		hintLen := int(binary.BigEndian.Uint16(data))
		if 2+hintLen == len(data) {
			m.IdentityHint = append([]byte{}, data[2:2+hintLen]...)
			return nil
		}
		if 2+hintLen < len(data) {
			m.IdentityHint = append([]byte{}, data[2:2+hintLen]...)
			rest := data[2+hintLen:]
			if len(rest) == 0 {
				return errBufferTooSmall
			}
			pointLen := int(rest[0])
			if len(rest) < 1+pointLen {
				return errBufferTooSmall
			}
			m.PublicKey = append([]byte{}, rest[1:1+pointLen]...)
			return nil
		}
	}
	pointLen := int(data[0])
	if len(data) < 1+pointLen {
		return errBufferTooSmall
	}
	m.PublicKey = append([]byte{}, data[1:1+pointLen]...)
	return nil
}
