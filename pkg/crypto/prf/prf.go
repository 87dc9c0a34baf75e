// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package prf implements the TLS 1.2 pseudo-random function (RFC 5246
// §5) and the derivations built on top of it: the DTLS pre-master and
// master secrets, the traffic key block, and Finished verify_data.
package prf

import (
	"crypto/hmac"
	"errors"
	"hash"

	"github.com/birotaio/californium/pkg/crypto/elliptic"
)

var errEncryptionKeysTooShort = errors.New("prf: not enough key material generated")

const (
	masterSecretLength = 48

	clientFinishedLabel = "client finished"
	serverFinishedLabel = "server finished"
	masterSecretLabel   = "master secret"
	keyExpansionLabel   = "key expansion"
)

// PreMasterSecret derives the ECDHE pre-master secret from a local
// private key and the peer's public key on the negotiated curve.
func PreMasterSecret(publicKey, privateKey []byte, curve elliptic.Curve) ([]byte, error) {
	return elliptic.SharedSecret(curve, privateKey, publicKey)
}

// pHash is the P_hash(secret, seed) construction of RFC 5246 §5: the
// HMAC-based data-expansion function underlying the PRF.
func pHash(secret, seed []byte, requestedLength int, h func() hash.Hash) ([]byte, error) {
	hmacHash := hmac.New(h, secret)
	if _, err := hmacHash.Write(seed); err != nil {
		return nil, err
	}
	aCurr := hmacHash.Sum(nil)

	out := make([]byte, 0, requestedLength)
	for len(out) < requestedLength {
		hmacHash.Reset()
		if _, err := hmacHash.Write(aCurr); err != nil {
			return nil, err
		}
		if _, err := hmacHash.Write(seed); err != nil {
			return nil, err
		}
		out = append(out, hmacHash.Sum(nil)...)

		hmacHash.Reset()
		if _, err := hmacHash.Write(aCurr); err != nil {
			return nil, err
		}
		aCurr = hmacHash.Sum(nil)
	}
	return out[:requestedLength], nil
}

// MasterSecret computes the 48-byte master_secret (RFC 5246 §8.1) from
// the pre-master secret and the two ClientHello/ServerHello randoms.
func MasterSecret(preMasterSecret, clientRandom, serverRandom []byte, hashFunc func() hash.Hash) ([]byte, error) {
	seed := append(append([]byte(masterSecretLabel), clientRandom...), serverRandom...)
	return pHash(preMasterSecret, seed, masterSecretLength, hashFunc)
}

// EncryptionKeys is the traffic key block derived from the master
// secret (RFC 5246 §6.3). MAC keys are empty for AEAD cipher suites
// (macLen == 0).
type EncryptionKeys struct {
	MasterSecret   []byte
	ClientMACKey   []byte
	ServerMACKey   []byte
	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
}

// GenerateEncryptionKeys expands the master secret into the MAC keys,
// write keys, and write IVs the negotiated cipher suite needs, per the
// sizes it declares (macLen/keyLen/ivLen).
func GenerateEncryptionKeys(masterSecret, clientRandom, serverRandom []byte, macLen, keyLen, ivLen int, hashFunc func() hash.Hash) (*EncryptionKeys, error) {
	// RFC 5246 §6.3: key_block seed is server_random || client_random,
	// unlike master_secret's client_random || server_random.
	seed := append([]byte(keyExpansionLabel), append(append([]byte{}, serverRandom...), clientRandom...)...)

	keyMaterialLen := (2 * macLen) + (2 * keyLen) + (2 * ivLen)
	keyMaterial, err := pHash(masterSecret, seed, keyMaterialLen, hashFunc)
	if err != nil {
		return nil, err
	}
	if len(keyMaterial) < keyMaterialLen {
		return nil, errEncryptionKeysTooShort
	}

	clientMACKey := append([]byte{}, keyMaterial[:macLen]...)
	keyMaterial = keyMaterial[macLen:]
	serverMACKey := append([]byte{}, keyMaterial[:macLen]...)
	keyMaterial = keyMaterial[macLen:]
	clientWriteKey := append([]byte{}, keyMaterial[:keyLen]...)
	keyMaterial = keyMaterial[keyLen:]
	serverWriteKey := append([]byte{}, keyMaterial[:keyLen]...)
	keyMaterial = keyMaterial[keyLen:]
	clientWriteIV := append([]byte{}, keyMaterial[:ivLen]...)
	keyMaterial = keyMaterial[ivLen:]
	serverWriteIV := append([]byte{}, keyMaterial[:ivLen]...)

	return &EncryptionKeys{
		MasterSecret:   masterSecret,
		ClientMACKey:   clientMACKey,
		ServerMACKey:   serverMACKey,
		ClientWriteKey: clientWriteKey,
		ServerWriteKey: serverWriteKey,
		ClientWriteIV:  clientWriteIV,
		ServerWriteIV:  serverWriteIV,
	}, nil
}

// verifyData computes the 12-byte Finished verify_data (RFC 5246
// §7.4.9) over the concatenated handshake message cache, for the side
// identified by label.
func verifyData(masterSecret, handshakeMessages []byte, hashFunc func() hash.Hash, label string) ([]byte, error) {
	h := hashFunc()
	if _, err := h.Write(handshakeMessages); err != nil {
		return nil, err
	}
	seed := append([]byte(label), h.Sum(nil)...)
	return pHash(masterSecret, seed, 12, hashFunc)
}

// VerifyDataClient computes the client's Finished verify_data.
func VerifyDataClient(masterSecret, handshakeMessages []byte, hashFunc func() hash.Hash) ([]byte, error) {
	return verifyData(masterSecret, handshakeMessages, hashFunc, clientFinishedLabel)
}

// VerifyDataServer computes the server's Finished verify_data.
func VerifyDataServer(masterSecret, handshakeMessages []byte, hashFunc func() hash.Hash) ([]byte, error) {
	return verifyData(masterSecret, handshakeMessages, hashFunc, serverFinishedLabel)
}
