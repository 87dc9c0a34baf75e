// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package recordlayer implements the DTLS record layer: framing,
// sequence numbers, and splitting a single datagram into its constituent
// records.
package recordlayer

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/protocol"
)

// FixedHeaderSize is the size of the record header common to every
// content type: type(1) || version(2) || epoch(2) || seq(6) || length(2)
const FixedHeaderSize = 13

// MaxSequenceNumber is the maximum value the record sequence number
// (48-bit) may take before a new handshake is required.
//
// https://tools.ietf.org/html/rfc6347#section-4.1
const MaxSequenceNumber = 0x0000FFFFFFFFFFFF

// Header is the common header for DTLS records.
//
// https://tools.ietf.org/html/rfc6347#section-4.1
type Header struct {
	ContentType    protocol.ContentType
	Version        protocol.Version
	Epoch          uint16
	SequenceNumber uint64 // 48-bit value in wire form
	ContentLen     uint16
}

// Marshal encodes the header to binary
func (h *Header) Marshal() ([]byte, error) {
	if h.SequenceNumber > MaxSequenceNumber {
		return nil, protocol.NewDecodeError(0, "sequence number exceeds 48 bits")
	}

	out := make([]byte, FixedHeaderSize)
	out[0] = byte(h.ContentType)
	out[1] = h.Version.Major
	out[2] = h.Version.Minor
	binary.BigEndian.PutUint16(out[3:], h.Epoch)
	putUint48(out[5:], h.SequenceNumber)
	binary.BigEndian.PutUint16(out[11:], h.ContentLen)
	return out, nil
}

// Unmarshal populates the header from binary
func (h *Header) Unmarshal(data []byte) error {
	if len(data) < FixedHeaderSize {
		return protocol.NewDecodeError(0, "record header shorter than 13 bytes")
	}
	h.ContentType = protocol.ContentType(data[0])
	h.Version.Major = data[1]
	h.Version.Minor = data[2]
	h.Epoch = binary.BigEndian.Uint16(data[3:])
	h.SequenceNumber = getUint48(data[5:])
	h.ContentLen = binary.BigEndian.Uint16(data[11:])
	return nil
}

// Size returns the marshaled size of the header.
func (h *Header) Size() int {
	return FixedHeaderSize
}

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func getUint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}
