// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package signaturehash implements the signature_algorithms negotiation
// (RFC 5246 §7.4.1.4.1) and ECDSA sign/verify over the resulting scheme.
package signaturehash

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
)

// Hash is the IANA hash algorithm identifier.
type Hash byte

// Hash algorithms this connector will negotiate. MD5 and SHA-1 are
// excluded unless InsecureHashes explicitly opts in, following the
// teacher's own signaturehash gate.
const (
	HashSHA256 Hash = 4
	HashSHA384 Hash = 5
	HashSHA512 Hash = 6
)

// Signature is the IANA signature algorithm identifier.
type Signature byte

// Signature algorithms this connector negotiates. RSA is intentionally
// absent: the spec's certificate path is ECDHE-ECDSA only.
const (
	SignatureECDSA Signature = 3
)

// Algorithm pairs a Hash and a Signature, as sent on the wire.
type Algorithm struct {
	Hash      Hash
	Signature Signature
}

// defaultAlgorithms is the negotiation order offered by this connector.
func defaultAlgorithms() []Algorithm {
	return []Algorithm{
		{Hash: HashSHA256, Signature: SignatureECDSA},
		{Hash: HashSHA384, Signature: SignatureECDSA},
	}
}

// ParseSignatureSchemes validates a list of Algorithms a Config
// requested, falling back to defaultAlgorithms() when empty.
func ParseSignatureSchemes(requested []Algorithm, insecureHashes bool) ([]Algorithm, error) {
	if len(requested) == 0 {
		return defaultAlgorithms(), nil
	}
	out := make([]Algorithm, 0, len(requested))
	for _, a := range requested {
		if a.Signature != SignatureECDSA {
			return nil, fmt.Errorf("signaturehash: unsupported signature algorithm %d", a.Signature)
		}
		if !insecureHashes && a.Hash != HashSHA256 && a.Hash != HashSHA384 && a.Hash != HashSHA512 {
			return nil, fmt.Errorf("signaturehash: insecure hash algorithm %d rejected", a.Hash)
		}
		out = append(out, a)
	}
	return out, nil
}

func sum(h Hash, data []byte) ([]byte, error) {
	switch h {
	case HashSHA256:
		digest := sha256.Sum256(data)
		return digest[:], nil
	case HashSHA384:
		digest := sha512.Sum384(data)
		return digest[:], nil
	case HashSHA512:
		digest := sha512.Sum512(data)
		return digest[:], nil
	default:
		return nil, fmt.Errorf("signaturehash: unsupported hash algorithm %d", h)
	}
}

// Sign computes an ECDSA signature over data under Algorithm a.
func Sign(key *ecdsa.PrivateKey, a Algorithm, data []byte) ([]byte, error) {
	digest, err := sum(a.Hash, data)
	if err != nil {
		return nil, err
	}
	return ecdsa.SignASN1(rand.Reader, key, digest)
}

// Verify checks an ECDSA signature over data under Algorithm a against
// the certificate's public key.
func Verify(cert *x509.Certificate, a Algorithm, data, signature []byte) error {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("signaturehash: certificate key is not ECDSA")
	}
	digest, err := sum(a.Hash, data)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(pub, digest, signature) {
		return fmt.Errorf("signaturehash: signature verification failed")
	}
	return nil
}
