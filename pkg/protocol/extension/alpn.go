// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package extension

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/protocol"
)

// ALPN is a TLS extension for application-layer protocol negotiation.
//
// https://tools.ietf.org/html/rfc7301
type ALPN struct {
	ProtocolNameList []string
}

// TypeValue returns the extension TypeValue
func (a ALPN) TypeValue() TypeValue {
	return ALPNTypeValue
}

// Marshal encodes the extension
func (a *ALPN) Marshal() ([]byte, error) {
	body := []byte{}
	for _, proto := range a.ProtocolNameList {
		body = append(body, byte(len(proto)))
		body = append(body, proto...)
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	return append(out, body...), nil
}

// Unmarshal populates the extension from binary
func (a *ALPN) Unmarshal(data []byte) error {
	if len(data) < 2 {
		return protocol.NewDecodeError(0, "alpn: truncated")
	}
	declared := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if declared > len(data) {
		return protocol.NewDecodeError(2, "alpn: bad length")
	}
	data = data[:declared]

	offset := 0
	for offset < len(data) {
		n := int(data[offset])
		offset++
		if offset+n > len(data) {
			return protocol.NewDecodeError(offset, "alpn: protocol name overflows buffer")
		}
		a.ProtocolNameList = append(a.ProtocolNameList, string(data[offset:offset+n]))
		offset += n
	}
	return nil
}
