// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ciphersuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// CBC implements record protection for the TLS_ECDHE_*_WITH_AES_128_CBC_SHA256
// suites: encrypt-then-MAC is not used (RFC 6347 predates RFC 7366), so
// records are MAC-then-encrypt with an explicit per-record IV.
type CBC struct {
	localBlock, remoteBlock     cipher.Block
	localMACKey, remoteMACKey   []byte
	hashFunc                    func() hash.Hash
}

// NewCBC builds a CBC cipher state from the local and remote traffic
// keys and MAC keys a session derived for one direction each.
func NewCBC(localKey, localMACKey, remoteKey, remoteMACKey []byte) (*CBC, error) {
	localBlock, err := aes.NewCipher(localKey)
	if err != nil {
		return nil, err
	}
	remoteBlock, err := aes.NewCipher(remoteKey)
	if err != nil {
		return nil, err
	}
	return &CBC{
		localBlock:    localBlock,
		remoteBlock:   remoteBlock,
		localMACKey:   localMACKey,
		remoteMACKey:  remoteMACKey,
		hashFunc:      sha256.New,
	}, nil
}

func (c *CBC) macLength() int {
	return c.hashFunc().Size()
}

// computeMAC reproduces RFC 5246 §6.2.3.1's MAC input: the AEAD-style
// additional data followed by the plaintext payload.
func (c *CBC) computeMAC(key []byte, h *recordlayer.Header, payload []byte) []byte {
	mac := hmac.New(c.hashFunc, key)
	mac.Write(generateAEADAdditionalData(h, len(payload))) //nolint:errcheck
	mac.Write(payload)                                     //nolint:errcheck
	return mac.Sum(nil)
}

// Encrypt MACs then CBC-encrypts a plaintext record with a fresh
// random IV and PKCS#7-style padding.
func (c *CBC) Encrypt(pkt *recordlayer.RecordLayer, raw []byte) ([]byte, error) {
	payload := raw[pkt.Header.Size():]
	header := raw[:pkt.Header.Size()]

	mac := c.computeMAC(c.localMACKey, &pkt.Header, payload)

	blockSize := c.localBlock.BlockSize()
	plaintext := append(append([]byte{}, payload...), mac...)
	padLen := blockSize - (len(plaintext)+1)%blockSize
	if padLen == blockSize {
		padLen = 0
	}
	for i := 0; i <= padLen; i++ {
		plaintext = append(plaintext, byte(padLen))
	}

	iv := make([]byte, blockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(c.localBlock, iv).CryptBlocks(ciphertext, plaintext)

	out := make([]byte, len(header)+len(iv)+len(ciphertext))
	copy(out, header)
	copy(out[len(header):], iv)
	copy(out[len(header)+len(iv):], ciphertext)
	binary.BigEndian.PutUint16(out[pkt.Header.Size()-2:], uint16(len(iv)+len(ciphertext)))
	return out, nil
}

// Decrypt CBC-decrypts then verifies the MAC of a protected record.
func (c *CBC) Decrypt(h recordlayer.Header, in []byte) ([]byte, error) {
	if err := h.Unmarshal(in); err != nil {
		return nil, err
	}

	blockSize := c.remoteBlock.BlockSize()
	body := in[h.Size():]
	if len(body) < blockSize || len(body)%blockSize != 0 {
		return nil, errNotEnoughRoomForMAC
	}
	iv := body[:blockSize]
	ciphertext := body[blockSize:]
	if len(ciphertext) == 0 {
		return nil, errNotEnoughRoomForMAC
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.remoteBlock, iv).CryptBlocks(plaintext, ciphertext)

	padLen := int(plaintext[len(plaintext)-1])
	if padLen+1 > len(plaintext) {
		return nil, errInvalidMAC
	}
	plaintext = plaintext[:len(plaintext)-padLen-1]

	macLen := c.macLength()
	if len(plaintext) < macLen {
		return nil, errInvalidMAC
	}
	payload := plaintext[:len(plaintext)-macLen]
	gotMAC := plaintext[len(plaintext)-macLen:]

	wantMAC := c.computeMAC(c.remoteMACKey, &h, payload)
	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, errInvalidMAC
	}
	return append(rewritePlaintextHeader(in[:h.Size()], len(payload)), payload...), nil
}
