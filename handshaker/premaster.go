// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import "encoding/binary"

// pskPreMasterSecret builds the plain-PSK pre_master_secret (RFC 4279
// §2): a PSK-only exchange has no "other secret", so the first half is
// all zero, equal in length to the PSK.
func pskPreMasterSecret(psk []byte) []byte {
	zeros := make([]byte, len(psk))
	return concatWithLengths(zeros, psk)
}

// ecdhePSKPreMasterSecret builds the ECDHE_PSK pre_master_secret (RFC
// 5489 §2): the ECDHE shared secret stands in for the "other secret"
// half, the PSK is the second half.
func ecdhePSKPreMasterSecret(ecdheSecret, psk []byte) []byte {
	return concatWithLengths(ecdheSecret, psk)
}

// concatWithLengths encodes struct PreMasterSecret { opaque other_secret<0..2^16-1>; opaque psk<0..2^16-1>; }.
func concatWithLengths(otherSecret, psk []byte) []byte {
	out := make([]byte, 2, 2+len(otherSecret)+2+len(psk))
	binary.BigEndian.PutUint16(out, uint16(len(otherSecret)))
	out = append(out, otherSecret...)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(psk)))
	out = append(out, lenBuf...)
	out = append(out, psk...)
	return out
}
