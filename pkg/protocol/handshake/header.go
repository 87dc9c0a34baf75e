// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

// HeaderLength is the size of the handshake header:
// type(1) || total_length(3) || message_seq(2) || fragment_offset(3) || fragment_length(3)
const HeaderLength = 12

// Header is the common header for handshake messages, present on every
// fragment: it carries enough bookkeeping to reassemble a logical
// message out of order (message_seq, fragment_offset, fragment_length,
// total_length).
//
// https://tools.ietf.org/html/rfc6347#section-4.2.2
type Header struct {
	Type            Type
	Length          uint32 // 24-bit: total_length of the logical message
	MessageSequence uint16
	FragmentOffset  uint32 // 24-bit
	FragmentLength  uint32 // 24-bit
}

// Marshal encodes the header to binary
func (h *Header) Marshal() ([]byte, error) {
	out := make([]byte, HeaderLength)
	out[0] = byte(h.Type)
	putUint24(out[1:], h.Length)
	out[4] = byte(h.MessageSequence >> 8)
	out[5] = byte(h.MessageSequence)
	putUint24(out[6:], h.FragmentOffset)
	putUint24(out[9:], h.FragmentLength)
	return out, nil
}

// Unmarshal populates the header from binary
func (h *Header) Unmarshal(data []byte) error {
	if len(data) < HeaderLength {
		return errBufferTooSmall
	}
	h.Type = Type(data[0])
	h.Length = getUint24(data[1:])
	h.MessageSequence = uint16(data[4])<<8 | uint16(data[5])
	h.FragmentOffset = getUint24(data[6:])
	h.FragmentLength = getUint24(data[9:])
	return nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
