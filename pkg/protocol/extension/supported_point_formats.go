// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package extension

import "github.com/birotaio/californium/pkg/protocol"

// EllipticCurvePointFormat is the ID for a point format, as registered
// by IANA.
type EllipticCurvePointFormat byte

// EllipticCurvePointFormat enums
const (
	EllipticCurvePointFormatUncompressed EllipticCurvePointFormat = 0
)

// SupportedPointFormats allows a Client/Server to negotiate the point
// format used in an ECPoint. Only uncompressed points are supported.
//
// https://tools.ietf.org/html/rfc8422#section-5.1.2
type SupportedPointFormats struct {
	PointFormats []EllipticCurvePointFormat
}

// TypeValue returns the extension TypeValue
func (s SupportedPointFormats) TypeValue() TypeValue {
	return SupportedPointFormatsTypeValue
}

// Marshal encodes the extension
func (s *SupportedPointFormats) Marshal() ([]byte, error) {
	out := []byte{byte(len(s.PointFormats))}
	for _, format := range s.PointFormats {
		out = append(out, byte(format))
	}
	return out, nil
}

// Unmarshal populates the extension from binary
func (s *SupportedPointFormats) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return protocol.NewDecodeError(0, "supported_point_formats: truncated")
	}
	declared := int(data[0])
	if declared > len(data)-1 {
		return protocol.NewDecodeError(1, "supported_point_formats: bad length")
	}
	for _, b := range data[1 : 1+declared] {
		s.PointFormats = append(s.PointFormats, EllipticCurvePointFormat(b))
	}
	return nil
}
