// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ciphersuite

import "github.com/birotaio/californium/pkg/protocol/recordlayer"

// CipherSuite is the per-epoch record protection state: an established
// suite, seeded with the traffic keys a session derives via
// prf.GenerateEncryptionKeys, that can seal and open records.
type CipherSuite interface {
	// Encrypt protects a plaintext record. raw is the marshaled record
	// (header + plaintext content); the returned slice is the full
	// on-wire record (header + protected payload).
	Encrypt(pkt *recordlayer.RecordLayer, raw []byte) ([]byte, error)

	// Decrypt unprotects a single on-wire record, returning its
	// plaintext header + content bytes.
	Decrypt(h recordlayer.Header, in []byte) ([]byte, error)
}

// AEADKeyLength is the AES-128 key size every supported AEAD/CBC suite
// in this connector uses.
const AEADKeyLength = 16
