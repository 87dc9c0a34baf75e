// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ciphersuite

import (
	"fmt"

	"github.com/birotaio/californium/pkg/crypto/prf"
)

// New builds the CipherSuite for id, keyed from a derived
// prf.EncryptionKeys, oriented so isClient selects which side's keys
// are "local" (write) versus "remote" (read).
func New(id ID, keys *prf.EncryptionKeys, isClient bool) (CipherSuite, error) {
	localKey, remoteKey := keys.ClientWriteKey, keys.ServerWriteKey
	localIV, remoteIV := keys.ClientWriteIV, keys.ServerWriteIV
	localMAC, remoteMAC := keys.ClientMACKey, keys.ServerMACKey
	if !isClient {
		localKey, remoteKey = remoteKey, localKey
		localIV, remoteIV = remoteIV, localIV
		localMAC, remoteMAC = remoteMAC, localMAC
	}

	switch id {
	case TLS_PSK_WITH_AES_128_CCM_8:
		return NewCCM(localKey, localIV, remoteKey, remoteIV)
	case TLS_PSK_WITH_AES_128_GCM_SHA256, TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:
		return NewGCM(localKey, localIV, remoteKey, remoteIV)
	case TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA256, TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256:
		return NewCBC(localKey, localMAC, remoteKey, remoteMAC)
	default:
		return nil, fmt.Errorf("ciphersuite: unsupported id %s", id)
	}
}

// KeyLengths reports the MAC/key/IV sizes New's prf.GenerateEncryptionKeys
// call should request for id.
func KeyLengths(id ID) (macLen, keyLen, ivLen int) {
	switch id {
	case TLS_PSK_WITH_AES_128_CCM_8, TLS_PSK_WITH_AES_128_GCM_SHA256, TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:
		return 0, AEADKeyLength, 4
	default:
		return 32, AEADKeyLength, 0
	}
}
