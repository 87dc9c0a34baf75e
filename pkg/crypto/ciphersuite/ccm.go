// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ciphersuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// ccmTagLength/ccmNonceLength are the AEAD_AES_128_CCM_8 parameters
// (RFC 6655): an 8-byte truncated tag, a 12-byte nonce (4-byte
// implicit write IV, 8-byte explicit per-record value).
const (
	ccmTagLength   = 8
	ccmNonceLength = 12
	ccmLengthField = 15 - ccmNonceLength // "L" in RFC 3610, bytes used to encode the message length
)

var errCCMInvalidInputSize = errors.New("ciphersuite: ccm input exceeds supported length")

// ccm implements the AEAD interface (crypto/cipher.AEAD) for CCM mode
// over an AES block cipher, per RFC 3610. The standard library has no
// CCM mode, so this builds it directly from CBC-MAC authentication and
// CTR-mode encryption, both over crypto/aes.
type ccm struct {
	block   cipher.Block
	tagSize int
}

func newCCM(key []byte, tagSize int) (*ccm, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &ccm{block: block, tagSize: tagSize}, nil
}

func (c *ccm) NonceSize() int { return ccmNonceLength }
func (c *ccm) Overhead() int  { return c.tagSize }

// cbcMAC computes the raw (untruncated) CBC-MAC tag over a CCM
// formatted B0 block, the associated-data block(s), and the
// plaintext, per RFC 3610 §2.2.
func (c *ccm) cbcMAC(nonce, adata, plaintext []byte) []byte {
	blockSize := c.block.BlockSize()
	mac := make([]byte, blockSize)

	b0 := make([]byte, blockSize)
	flags := byte(0)
	if len(adata) > 0 {
		flags |= 0x40
	}
	flags |= byte((c.tagSize-2)/2) << 3
	flags |= byte(ccmLengthField - 1)
	b0[0] = flags
	copy(b0[1:1+ccmNonceLength], nonce)
	putLengthField(b0[1+ccmNonceLength:], uint64(len(plaintext)))

	xorInto(mac, b0)
	c.block.Encrypt(mac, mac)

	if len(adata) > 0 {
		aLenField := encodeAssociatedDataLength(len(adata))
		block := make([]byte, 0, blockSize)
		block = append(block, aLenField...)
		block = append(block, adata...)
		for len(block)%blockSize != 0 {
			block = append(block, 0)
		}
		for i := 0; i < len(block); i += blockSize {
			xorInto(mac, block[i:i+blockSize])
			c.block.Encrypt(mac, mac)
		}
	}

	padded := make([]byte, 0, blockSize)
	padded = append(padded, plaintext...)
	for len(padded)%blockSize != 0 {
		padded = append(padded, 0)
	}
	for i := 0; i < len(padded); i += blockSize {
		xorInto(mac, padded[i:i+blockSize])
		c.block.Encrypt(mac, mac)
	}

	return mac
}

// counterBlock builds the CCM counter-mode input block Ctr_i (RFC 3610 §2.3).
func (c *ccm) counterBlock(nonce []byte, i uint64) []byte {
	blockSize := c.block.BlockSize()
	blk := make([]byte, blockSize)
	blk[0] = byte(ccmLengthField - 1)
	copy(blk[1:1+ccmNonceLength], nonce)
	putLengthField(blk[1+ccmNonceLength:], i)
	return blk
}

func (c *ccm) ctrXOR(nonce []byte, counterStart uint64, in []byte) []byte {
	blockSize := c.block.BlockSize()
	out := make([]byte, len(in))
	var keystream [16]byte
	for offset, ctr := 0, counterStart; offset < len(in); offset, ctr = offset+blockSize, ctr+1 {
		blk := c.counterBlock(nonce, ctr)
		c.block.Encrypt(keystream[:], blk)
		end := offset + blockSize
		if end > len(in) {
			end = len(in)
		}
		xorBytes(out[offset:end], in[offset:end], keystream[:end-offset])
	}
	return out
}

// Seal implements cipher.AEAD.
func (c *ccm) Seal(dst, nonce, plaintext, adata []byte) []byte {
	tag := c.cbcMAC(nonce, adata, plaintext)[:c.tagSize]
	s0 := make([]byte, c.block.BlockSize())
	c.block.Encrypt(s0, c.counterBlock(nonce, 0))
	encryptedTag := make([]byte, c.tagSize)
	xorBytes(encryptedTag, tag, s0[:c.tagSize])

	ciphertext := c.ctrXOR(nonce, 1, plaintext)

	ret, out := sliceForAppend(dst, len(ciphertext)+c.tagSize)
	copy(out, ciphertext)
	copy(out[len(ciphertext):], encryptedTag)
	return ret
}

// Open implements cipher.AEAD.
func (c *ccm) Open(dst, nonce, in, adata []byte) ([]byte, error) {
	if len(in) < c.tagSize {
		return nil, errCCMInvalidInputSize
	}
	ciphertext := in[:len(in)-c.tagSize]
	encryptedTag := in[len(in)-c.tagSize:]

	plaintext := c.ctrXOR(nonce, 1, ciphertext)

	tag := c.cbcMAC(nonce, adata, plaintext)[:c.tagSize]
	s0 := make([]byte, c.block.BlockSize())
	c.block.Encrypt(s0, c.counterBlock(nonce, 0))
	wantEncryptedTag := make([]byte, c.tagSize)
	xorBytes(wantEncryptedTag, tag, s0[:c.tagSize])

	if subtle.ConstantTimeCompare(encryptedTag, wantEncryptedTag) != 1 {
		return nil, errDecryptPacket
	}

	ret, out := sliceForAppend(dst, len(plaintext))
	copy(out, plaintext)
	return ret, nil
}

func putLengthField(out []byte, v uint64) {
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
}

func encodeAssociatedDataLength(n int) []byte {
	// n is always small (the 13-byte AEAD additional data) so the
	// 2-byte encoding of RFC 3610 §2.2 always applies.
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(n))
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func xorBytes(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}

// CCM implements AEAD record protection for TLS_PSK_WITH_AES_128_CCM_8.
type CCM struct {
	localCCM, remoteCCM         cipher.AEAD
	localWriteIV, remoteWriteIV []byte
}

// NewCCM builds a CCM cipher state from the local and remote traffic
// keys and IVs a session derived for one direction each.
func NewCCM(localKey, localWriteIV, remoteKey, remoteWriteIV []byte) (*CCM, error) {
	localCCM, err := newCCM(localKey, ccmTagLength)
	if err != nil {
		return nil, err
	}
	remoteCCM, err := newCCM(remoteKey, ccmTagLength)
	if err != nil {
		return nil, err
	}
	return &CCM{
		localCCM:      localCCM,
		localWriteIV:  localWriteIV,
		remoteCCM:     remoteCCM,
		remoteWriteIV: remoteWriteIV,
	}, nil
}

// Encrypt seals a plaintext record.
func (c *CCM) Encrypt(pkt *recordlayer.RecordLayer, raw []byte) ([]byte, error) {
	payload := raw[pkt.Header.Size():]
	header := raw[:pkt.Header.Size()]

	nonce := make([]byte, ccmNonceLength)
	copy(nonce, c.localWriteIV[:4])
	if _, err := rand.Read(nonce[4:]); err != nil {
		return nil, err
	}

	additionalData := generateAEADAdditionalData(&pkt.Header, len(payload))
	encryptedPayload := c.localCCM.Seal(nil, nonce, payload, additionalData)

	out := make([]byte, len(header)+8+len(encryptedPayload))
	copy(out, header)
	copy(out[len(header):], nonce[4:])
	copy(out[len(header)+8:], encryptedPayload)
	binary.BigEndian.PutUint16(out[pkt.Header.Size()-2:], uint16(8+len(encryptedPayload)))
	return out, nil
}

// Decrypt opens a sealed record.
func (c *CCM) Decrypt(h recordlayer.Header, in []byte) ([]byte, error) {
	if err := h.Unmarshal(in); err != nil {
		return nil, err
	}
	if len(in) <= (8 + h.Size()) {
		return nil, errNotEnoughRoomForNonce
	}

	nonce := make([]byte, 0, ccmNonceLength)
	nonce = append(append(nonce, c.remoteWriteIV[:4]...), in[h.Size():h.Size()+8]...)
	out := in[h.Size()+8:]

	additionalData := generateAEADAdditionalData(&h, len(out)-ccmTagLength)
	plaintext, err := c.remoteCCM.Open(nil, nonce, out, additionalData)
	if err != nil {
		return nil, err
	}
	return append(rewritePlaintextHeader(in[:h.Size()], len(plaintext)), plaintext...), nil
}
