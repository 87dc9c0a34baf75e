// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package extension

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/protocol"
)

// NamedCurve is the named curve ID, as registered by IANA.
//
// https://tools.ietf.org/html/rfc8422#section-5.1.1
type NamedCurve uint16

// NamedCurve enums, restricted to the curves this connector supports.
// Explicit-prime and explicit-char2 curve types are a spec Non-goal and
// are rejected during negotiation by the handshaker, not here.
const (
	NamedCurveP256   NamedCurve = 0x0017
	NamedCurveP384   NamedCurve = 0x0018
	NamedCurveX25519 NamedCurve = 0x001d
)

// SupportedEllipticCurves allows a Client/Server to negotiate which
// curve they will use for ECDHE.
//
// https://tools.ietf.org/html/rfc8422#section-5.1.1
type SupportedEllipticCurves struct {
	EllipticCurves []NamedCurve
}

// TypeValue returns the extension TypeValue
func (s SupportedEllipticCurves) TypeValue() TypeValue {
	return SupportedEllipticCurvesTypeValue
}

// Marshal encodes the extension
func (s *SupportedEllipticCurves) Marshal() ([]byte, error) {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(2*len(s.EllipticCurves)))
	for _, curve := range s.EllipticCurves {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(curve))
		out = append(out, buf...)
	}
	return out, nil
}

// Unmarshal populates the extension from binary
func (s *SupportedEllipticCurves) Unmarshal(data []byte) error {
	if len(data) < 2 {
		return protocol.NewDecodeError(0, "supported_elliptic_curves: truncated")
	}
	declared := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if declared > len(data) || declared%2 != 0 {
		return protocol.NewDecodeError(2, "supported_elliptic_curves: bad length")
	}
	for i := 0; i < declared; i += 2 {
		s.EllipticCurves = append(s.EllipticCurves, NamedCurve(binary.BigEndian.Uint16(data[i:])))
	}
	return nil
}
