// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ciphersuite

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// generateAEADAdditionalData builds the thirteen-byte additional
// authenticated data for AEAD record protection (RFC 6347 §4.1.2.1 /
// RFC 5246 §6.2.3.3): epoch, sequence_number, type, version, length.
func generateAEADAdditionalData(h *recordlayer.Header, payloadLen int) []byte {
	var additionalData [13]byte
	binary.BigEndian.PutUint16(additionalData[0:], h.Epoch)
	putUint48(additionalData[2:], h.SequenceNumber)
	additionalData[8] = byte(h.ContentType)
	additionalData[9] = h.Version.Major
	additionalData[10] = h.Version.Minor
	binary.BigEndian.PutUint16(additionalData[11:], uint16(payloadLen))
	return additionalData[:]
}

// rewritePlaintextHeader returns a copy of the record header bytes
// with ContentLen overwritten to reflect a decrypted payload's length:
// the header bytes captured off the wire describe the protected
// (nonce + ciphertext + tag, or IV + ciphertext) length, which the
// caller's RecordLayer.Unmarshal must not see once the cipher has been
// stripped away.
func rewritePlaintextHeader(headerBytes []byte, plaintextLen int) []byte {
	out := append([]byte{}, headerBytes...)
	binary.BigEndian.PutUint16(out[len(out)-2:], uint16(plaintextLen))
	return out
}

func putUint48(out []byte, in uint64) {
	out[0] = byte(in >> 40)
	out[1] = byte(in >> 32)
	out[2] = byte(in >> 24)
	out[3] = byte(in >> 16)
	out[4] = byte(in >> 8)
	out[5] = byte(in)
}
