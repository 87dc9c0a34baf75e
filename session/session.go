// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package session holds the per-peer cryptographic state a DTLS
// connection accrues once a handshake has produced a master secret:
// negotiated cipher suite, read/write epoch and sequence counters,
// derived traffic keys, and the anti-replay window. Record-level
// encrypt/decrypt live here; the state machine that produces the
// master secret lives in the handshaker package.
package session

import (
	"crypto/sha256"
	"sync/atomic"

	"github.com/birotaio/californium/pkg/crypto/ciphersuite"
	"github.com/birotaio/californium/pkg/crypto/prf"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// PeerIdentity identifies the authenticated party behind a Session:
// exactly one of Identity (PSK), RawPublicKey, or Certificates is set,
// matching the negotiated key exchange algorithm.
type PeerIdentity struct {
	PSKIdentity  []byte
	RawPublicKey []byte
	Certificates [][]byte
}

// Session is the established cryptographic context for one peer
// address: DATA MODEL §3's "Session". It is created once a handshake
// computes a master secret and is mutated thereafter only through
// EncryptOutbound/DecryptInbound/AdvanceLocalEpoch/AdvanceRemoteEpoch,
// each of which is called
// from the owning Connection's serial executor and therefore never
// needs its own lock for single-threaded fields; the sequence counters
// use atomics because retransmission and fresh sends can race within
// that same serial context across flight boundaries.
type Session struct {
	ID           []byte
	CipherSuite  ciphersuite.ID
	MasterSecret []byte
	ClientRandom []byte
	ServerRandom []byte
	IsClient     bool
	Peer         PeerIdentity

	localEpoch  uint32
	remoteEpoch uint32

	localSeq []uint64 // indexed by epoch

	replay *replayWindows

	localSuite  []ciphersuite.CipherSuite // indexed by epoch
	remoteSuite []ciphersuite.CipherSuite // indexed by epoch

	pendingLocal  ciphersuite.CipherSuite
	pendingRemote ciphersuite.CipherSuite
}

// New creates a Session in epoch 0 (no encryption yet), ready to have
// DeriveKeys called once a master secret exists.
func New(id []byte, isClient bool, replayWindowSize uint) *Session {
	return &Session{
		ID:       id,
		IsClient: isClient,
		localSeq: []uint64{0},
		replay:   newReplayWindows(replayWindowSize),
	}
}

// LocalEpoch returns the epoch outbound records are currently written at.
func (s *Session) LocalEpoch() uint16 { return uint16(atomic.LoadUint32(&s.localEpoch)) }

// RemoteEpoch returns the epoch this session currently accepts inbound
// records decrypted at.
func (s *Session) RemoteEpoch() uint16 { return uint16(atomic.LoadUint32(&s.remoteEpoch)) }

// AdvanceLocalEpoch bumps the outbound epoch by one, called after this
// side sends ChangeCipherSpec.
func (s *Session) AdvanceLocalEpoch(suite ciphersuite.CipherSuite) {
	next := atomic.AddUint32(&s.localEpoch, 1)
	for len(s.localSuite) <= int(next) {
		s.localSuite = append(s.localSuite, nil)
		s.localSeq = append(s.localSeq, 0)
	}
	s.localSuite[next] = suite
}

// AdvanceRemoteEpoch bumps the inbound epoch by one, called after this
// side accepts the peer's ChangeCipherSpec.
func (s *Session) AdvanceRemoteEpoch(suite ciphersuite.CipherSuite) {
	next := atomic.AddUint32(&s.remoteEpoch, 1)
	for len(s.remoteSuite) <= int(next) {
		s.remoteSuite = append(s.remoteSuite, nil)
	}
	s.remoteSuite[next] = suite
}

// DeriveKeys implements DATA MODEL §4.C's derive_keys(): from the
// master secret plus client/server randoms, produces the cipher suite
// states for both read and write directions.
func (s *Session) DeriveKeys(id ciphersuite.ID) error {
	macLen, keyLen, ivLen := ciphersuite.KeyLengths(id)
	keys, err := prf.GenerateEncryptionKeys(s.MasterSecret, s.ClientRandom, s.ServerRandom, macLen, keyLen, ivLen, sha256.New)
	if err != nil {
		return err
	}

	local, err := ciphersuite.New(id, keys, s.IsClient)
	if err != nil {
		return err
	}
	remote, err := ciphersuite.New(id, keys, !s.IsClient)
	if err != nil {
		return err
	}
	// local/remote suites take effect at the NEXT epoch transition
	// (ChangeCipherSpec), so they're staged here and installed by
	// AdvanceLocalEpoch/AdvanceRemoteEpoch.
	s.CipherSuite = id
	s.pendingLocal = local
	s.pendingRemote = remote
	return nil
}

// ActivatePendingKeys installs the most recently derived key material
// as the cipher for the next local and remote epoch, and advances
// both epoch counters. Called once both sides have exchanged
// ChangeCipherSpec for a given handshake.
func (s *Session) ActivatePendingKeys() {
	s.AdvanceLocalEpoch(s.pendingLocal)
	s.AdvanceRemoteEpoch(s.pendingRemote)
	s.pendingLocal, s.pendingRemote = nil, nil
}

// EncryptOutbound implements encrypt_outbound: it stamps the next
// sequence number for the record's epoch, applies the active cipher
// suite (if the epoch is encrypted), and returns the wire bytes.
func (s *Session) EncryptOutbound(rl *recordlayer.RecordLayer) ([]byte, error) {
	epoch := rl.Header.Epoch
	for len(s.localSeq) <= int(epoch) {
		s.localSeq = append(s.localSeq, 0)
	}
	seq := atomic.AddUint64(&s.localSeq[epoch], 1) - 1
	if seq > recordlayer.MaxSequenceNumber {
		return nil, ErrSeqExhausted
	}
	rl.Header.SequenceNumber = seq

	raw, err := rl.Marshal()
	if err != nil {
		return nil, err
	}
	if epoch == 0 {
		return raw, nil
	}
	if int(epoch) >= len(s.localSuite) || s.localSuite[epoch] == nil {
		return nil, ErrNoCipherSuite
	}
	return s.localSuite[epoch].Encrypt(rl, raw)
}

// DecryptInbound implements decrypt_inbound: validates the anti-replay
// window for the record's (epoch, seq), decrypts if the epoch carries
// an active cipher, and advances the window only once decryption
// succeeds; an epoch-0 record, which carries no cipher, advances it at
// once and is returned unchanged.
func (s *Session) DecryptInbound(epoch uint16, seq uint64, raw []byte) (plaintext []byte, err error) {
	markValid, ok := s.replay.check(epoch, seq)
	if !ok {
		return nil, ErrReplayDropped
	}

	if epoch == 0 {
		markValid()
		return raw, nil
	}
	if int(epoch) >= len(s.remoteSuite) || s.remoteSuite[epoch] == nil {
		return nil, ErrNoCipherSuite
	}

	var h recordlayer.Header
	out, err := s.remoteSuite[epoch].Decrypt(h, raw)
	if err != nil {
		return nil, err
	}
	markValid()
	return out, nil
}
