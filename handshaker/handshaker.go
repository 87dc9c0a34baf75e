// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package handshaker drives the DTLS 1.2 handshake state machine
// (RFC 6347 §4.2.4) for one peer: flight construction, cipher-suite
// and curve negotiation, key derivation, Finished verification, and
// full/abbreviated session resumption. It knows nothing about sockets,
// connection pooling, or scheduling — callers feed it reassembled
// handshake fragments and plaintext ChangeCipherSpec notifications,
// and it returns the records the caller should encrypt (via the
// session.Session it was given) and transmit.
package handshaker

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/birotaio/californium/pkg/crypto/ciphersuite"
	"github.com/birotaio/californium/pkg/crypto/elliptic"
	"github.com/birotaio/californium/pkg/crypto/prf"
	"github.com/birotaio/californium/pkg/crypto/signaturehash"
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/alert"
	"github.com/birotaio/californium/pkg/protocol/extension"
	"github.com/birotaio/californium/pkg/protocol/handshake"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
	"github.com/birotaio/californium/session"
)

func curvePreference() []elliptic.Curve {
	return []elliptic.Curve{elliptic.X25519, elliptic.P256, elliptic.P384}
}

// Handshaker drives one handshake attempt to completion (or failure).
// It is single-threaded: the owning Connection's serial executor is
// what makes that safe, the same way Session's atomics only need to
// cover cross-flight races rather than true concurrent access.
type Handshaker struct {
	cfg  *Config
	role Role
	addr net.Addr
	log  logging.LeveledLogger

	state  State
	sess   *session.Session
	caches *handshakeArtifacts

	localMsgSeq uint16
	convSeq     uint16

	// nextReceiveSeq and pendingOrdered implement spec.md §4.E's
	// message_seq gate: a separate structure from caches.fragments,
	// which only reassembles the fragments of one message_seq. A
	// message that reassembles complete but out of turn (e.g. a
	// ServerKeyExchange racing ahead of a Certificate within the same
	// flight) is held in pendingOrdered rather than dispatched, so
	// doProcessMessage still only ever runs in strict 0,1,2,... order.
	nextReceiveSeq uint16
	pendingOrdered map[uint16]*handshake.Handshake

	// deferredRecords holds raw records whose epoch is exactly one
	// ahead of what the owning Session currently accepts (spec.md
	// §4.D): buffered by the Connector via DeferRecord, replayed via
	// TakeDeferred once this side's epoch catches up.
	deferredRecords [][]byte

	clientRandom handshake.Random
	serverRandom handshake.Random
	sessionID    []byte
	isResumption bool

	offeredSuites []ciphersuite.ID
	chosenSuite   ciphersuite.ID
	chosenCurve   elliptic.Curve

	ecdhePrivate    []byte
	ecdhePublic     []byte
	peerECDHEPublic []byte

	pskIdentity []byte
	psk         []byte

	peerCertChain [][]byte

	peerSentCCS        bool
	weHaveSentFinished bool

	lastFlight      []*recordlayer.RecordLayer
	lastFlightEpoch uint16
	retransmitCount int
	timer           TimerHandle

	established bool
	failed      bool
	failCause   error
}

// handshakeArtifacts bundles the two pieces of per-handshake state
// that exist purely to support reassembly and Finished hashing.
type handshakeArtifacts struct {
	fragments *handshake.FragmentBuffer
	cache     *handshake.Cache
}

func newArtifacts() *handshakeArtifacts {
	return &handshakeArtifacts{
		fragments: handshake.NewFragmentBuffer(),
		cache:     handshake.NewCache(),
	}
}

// NewClient builds a Handshaker that will drive the client side of a
// fresh handshake against sess (already created at epoch 0 by the
// caller). Call Start to obtain the first flight.
func NewClient(cfg *Config, sess *session.Session, addr net.Addr) *Handshaker {
	return &Handshaker{
		cfg:           cfg,
		role:          RoleClient,
		addr:          addr,
		log:           cfg.Log,
		state:         StateInitial,
		sess:          sess,
		caches:        newArtifacts(),
		offeredSuites: cfg.CipherSuites,
	}
}

// NewServer builds a Handshaker that will drive the server side. The
// caller is expected to have already validated the triggering
// ClientHello's cookie via ValidateClientHello before allocating a
// Connection and this Handshaker for it (RFC 6347 §4.2.1: the server
// stays stateless until that point).
func NewServer(cfg *Config, sess *session.Session, addr net.Addr) *Handshaker {
	return &Handshaker{
		cfg:           cfg,
		role:          RoleServer,
		addr:          addr,
		log:           cfg.Log,
		state:         StateInitial,
		sess:          sess,
		caches:        newArtifacts(),
		offeredSuites: cfg.CipherSuites,
	}
}

// State reports the current node in the state machine.
func (h *Handshaker) State() State { return h.state }

// Err reports the failure cause once State is StateFailed.
func (h *Handshaker) Err() error { return h.failCause }

// Established reports whether the handshake has completed and sess
// now holds an active cipher suite in both directions.
func (h *Handshaker) Established() bool { return h.established }

// Start builds the client's initial ClientHello (Flight1). Calling it
// again builds another ClientHello under the next message_seq rather
// than re-sending the first one; retransmission has its own path.
func (h *Handshaker) Start() ([]*recordlayer.RecordLayer, error) {
	if h.role != RoleClient {
		return nil, errUnexpectedMessage
	}
	return h.sendClientHello(nil)
}

func (h *Handshaker) sendClientHello(cookie []byte) ([]*recordlayer.RecordLayer, error) {
	if h.clientRandom.RandomBytes == [handshake.RandomBytesLength]byte{} {
		if err := h.clientRandom.Generate(); err != nil {
			return nil, err
		}
	}

	msg := &handshake.MessageClientHello{
		Version:        protocol.Version1_2,
		Random:         h.clientRandom,
		SessionID:      h.sessionID,
		Cookie:         cookie,
		CipherSuiteIDs: h.offeredSuites,
		CompressionMethods: []*protocol.CompressionMethod{
			protocol.CompressionMethods()[protocol.CompressionMethodNull],
		},
		Extensions: h.clientExtensions(),
	}

	h.state = StateCookieSent
	records, err := h.queueOutbound(msg)
	if err != nil {
		return nil, err
	}
	h.armRetransmit(records, 0)
	return records, nil
}

func (h *Handshaker) clientExtensions() []extension.Extension {
	curves := make([]extension.NamedCurve, len(curvePreference()))
	for i, c := range curvePreference() {
		curves[i] = c
	}
	return []extension.Extension{
		&extension.SupportedEllipticCurves{EllipticCurves: curves},
		&extension.SupportedPointFormats{PointFormats: []extension.EllipticCurvePointFormat{
			extension.EllipticCurvePointFormatUncompressed,
		}},
	}
}

// HandleHandshakeFragment feeds one raw wire fragment (12-byte
// fragment header + body, i.e. a handshake-typed record's content
// bytes exactly as they arrived) into the reassembly buffer, and
// drives the state machine as far as the newly completed message (if
// any) allows. It returns the next flight to send, if one is now due.
func (h *Handshaker) HandleHandshakeFragment(epoch uint16, raw []byte) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.state == StateFailed {
		return nil, nil, errUnexpectedMessage
	}

	hs, complete, err := h.caches.fragments.Push(raw)
	if err != nil {
		return nil, h.fail(err, alert.DecodeError), err
	}
	if !complete {
		return nil, nil, nil
	}

	return h.admitReassembled(epoch, hs)
}

// admitReassembled applies the next_receive_seq gate (spec.md §4.E) to
// a fully reassembled message: one behind the expected sequence is a
// retransmission of the peer's previous flight and re-sends ours; one
// at the expected sequence is dispatched, then whatever later
// sequences are already sitting in pendingOrdered are drained in turn;
// one ahead of the expected sequence is held until the gap fills.
func (h *Handshaker) admitReassembled(epoch uint16, hs *handshake.Handshake) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	seq := hs.Header.MessageSequence
	if seq < h.nextReceiveSeq {
		return h.retransmitLastFlight()
	}
	if seq > h.nextReceiveSeq {
		if h.pendingOrdered == nil {
			h.pendingOrdered = map[uint16]*handshake.Handshake{}
		}
		h.pendingOrdered[seq] = hs
		return nil, nil, nil
	}

	var records []*recordlayer.RecordLayer
	for {
		// Advanced before dispatch, so a handler that resets the gate
		// (onHelloVerifyRequest) keeps its reset value.
		h.nextReceiveSeq++
		flight, al, err := h.dispatch(epoch, hs)
		records = append(records, flight...)
		if err != nil {
			return records, al, err
		}

		next, ok := h.pendingOrdered[h.nextReceiveSeq]
		if !ok {
			break
		}
		delete(h.pendingOrdered, h.nextReceiveSeq)
		hs = next
	}
	return records, nil, nil
}

// retransmitLastFlight answers a duplicate of an already-processed
// message_seq (RFC 6347 §4.2.4: the peer retransmitted its previous
// flight) by re-sending our own last flight rather than reprocessing
// anything, and restarts the retransmit timer as if we had just sent it.
func (h *Handshaker) retransmitLastFlight() ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if len(h.lastFlight) == 0 {
		return nil, nil, nil
	}
	h.armRetransmit(h.lastFlight, h.lastFlightEpoch)
	return h.lastFlight, nil, nil
}

// DeferRecord buffers a raw record the Connector could not yet decrypt
// because its epoch is one ahead of what the Session currently
// accepts (spec.md §4.D); TakeDeferred replays it once that epoch
// installs.
func (h *Handshaker) DeferRecord(raw []byte) {
	h.deferredRecords = append(h.deferredRecords, append([]byte{}, raw...))
}

// TakeDeferred removes and returns, in original arrival order, every
// record DeferRecord buffered for epoch.
func (h *Handshaker) TakeDeferred(epoch uint16) [][]byte {
	if len(h.deferredRecords) == 0 {
		return nil
	}
	var ready [][]byte
	kept := h.deferredRecords[:0]
	for _, raw := range h.deferredRecords {
		var hdr recordlayer.Header
		if err := hdr.Unmarshal(raw); err == nil && hdr.Epoch == epoch {
			ready = append(ready, raw)
			continue
		}
		kept = append(kept, raw)
	}
	h.deferredRecords = kept
	return ready
}

// HandleChangeCipherSpec records that the peer has switched to its
// pending cipher state; the caller must itself call
// sess.ActivatePendingKeys-equivalent bookkeeping on the *remote* side
// before decrypting anything past this point, which for this session
// model means the peer's next record is expected to decrypt at the
// bumped RemoteEpoch. Concretely the caller continues handing
// DecryptInbound raw bytes; the epoch bump already happened at
// DeriveKeys-adjacent ActivatePendingKeys time for the direction the
// handshaker owns.
func (h *Handshaker) HandleChangeCipherSpec() error {
	if h.peerSentCCS {
		return nil // retransmitted flight, already accounted for
	}
	h.peerSentCCS = true
	if h.state == StateKeysExchanged || h.state == StateHelloReceived {
		h.state = StateCCSReceived
	}
	return nil
}

// dispatch routes a fully reassembled handshake message by type and
// current role, per RFC 6347 §4.2.4's flight diagram.
func (h *Handshaker) dispatch(epoch uint16, hs *handshake.Handshake) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	switch msg := hs.Message.(type) {
	case *handshake.MessageClientHello:
		return h.onClientHello(hs.Header, msg)
	case *handshake.MessageHelloVerifyRequest:
		return h.onHelloVerifyRequest(msg)
	case *handshake.MessageServerHello:
		return h.onServerHello(hs.Header, msg)
	case *handshake.MessageCertificate:
		return h.onCertificate(hs.Header, msg)
	case *handshake.MessageServerKeyExchange:
		return h.onServerKeyExchange(hs.Header, msg)
	case *handshake.MessageServerHelloDone:
		return h.onServerHelloDone(hs.Header, msg)
	case *handshake.MessageClientKeyExchange:
		return h.onClientKeyExchange(hs.Header, msg)
	case *handshake.MessageCertificateVerify:
		return h.onCertificateVerify(hs.Header, msg)
	case *handshake.MessageFinished:
		return h.onFinished(epoch, hs.Header, msg)
	default:
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
}

// --- server side ---

func (h *Handshaker) onClientHello(hdr handshake.Header, m *handshake.MessageClientHello) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleServer {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	if h.state != StateInitial && h.state != StateHelloReceived {
		return nil, nil, nil // duplicate/retransmitted ClientHello for an in-progress flight
	}

	h.clientRandom = m.Random
	h.pushReceived(hdr, m)

	chosen, curve, ok := h.negotiate(m)
	if !ok {
		return nil, h.fail(errNoCipherSuiteChosen, alert.HandshakeFailure), errNoCipherSuiteChosen
	}
	h.chosenSuite = chosen
	h.chosenCurve = curve

	var cached *session.Session
	if len(m.SessionID) > 0 && h.cfg.Sessions != nil {
		if s, ok := h.cfg.Sessions.Get(m.SessionID); ok && s.CipherSuite == chosen {
			cached = s
		}
	}

	if err := h.serverRandom.Generate(); err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}

	if cached != nil {
		h.isResumption = true
		h.sessionID = m.SessionID
		h.sess.MasterSecret = cached.MasterSecret
		h.sess.CipherSuite = h.chosenSuite
		h.sess.ClientRandom = h.clientRandom.MarshalFixedSlice()
		h.sess.ServerRandom = h.serverRandom.MarshalFixedSlice()
		h.sess.Peer = cached.Peer
		h.state = StateKeysExchanged

		records, err := h.sendServerHello()
		if err != nil {
			return nil, h.fail(err, alert.InternalError), err
		}
		if err := h.activateSessionKeys(); err != nil {
			return nil, h.fail(err, alert.InternalError), err
		}
		finishRecords, err := h.sendOwnCCSFinished()
		if err != nil {
			return nil, h.fail(err, alert.InternalError), err
		}
		records = append(records, finishRecords...)
		h.armRetransmit(records, h.sess.LocalEpoch())
		return records, nil, nil
	}

	id, err := randomSessionID()
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	h.sessionID = id
	h.sess.MasterSecret = nil
	h.sess.ClientRandom = h.clientRandom.MarshalFixedSlice()
	h.sess.ServerRandom = h.serverRandom.MarshalFixedSlice()

	var records []*recordlayer.RecordLayer
	hello, err := h.sendServerHello()
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	records = append(records, hello...)

	if h.chosenSuite.KeyExchangeAlgorithm() == ciphersuite.KeyExchangeECDHEECDSA {
		certRecords, err := h.sendOwnCertificate()
		if err != nil {
			return nil, h.fail(err, alert.HandshakeFailure), err
		}
		records = append(records, certRecords...)
	}

	skeRecords, err := h.sendServerKeyExchange()
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	records = append(records, skeRecords...)

	doneMsg := &handshake.MessageServerHelloDone{}
	doneRecords, err := h.queueOutbound(doneMsg)
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	records = append(records, doneRecords...)

	h.state = StateHelloReceived
	h.armRetransmit(records, 0)
	return records, nil, nil
}

func (h *Handshaker) sendServerHello() ([]*recordlayer.RecordLayer, error) {
	chosen := h.chosenSuite
	msg := &handshake.MessageServerHello{
		Version:           protocol.Version1_2,
		Random:            h.serverRandom,
		SessionID:         h.sessionID,
		CipherSuiteID:     &chosen,
		CompressionMethod: protocol.CompressionMethods()[protocol.CompressionMethodNull],
	}
	if h.log != nil {
		h.log.Debugf("handshaker: -> server_hello %+v", msg.MakeLog())
	}
	return h.queueOutbound(msg)
}

func (h *Handshaker) sendOwnCertificate() ([]*recordlayer.RecordLayer, error) {
	chain, _, err := h.cfg.Credentials.OwnCertificate()
	if err != nil {
		return nil, err
	}
	msg := &handshake.MessageCertificate{Certificate: chain}
	return h.queueOutbound(msg)
}

func (h *Handshaker) sendServerKeyExchange() ([]*recordlayer.RecordLayer, error) {
	msg := &handshake.MessageServerKeyExchange{}

	switch h.chosenSuite.KeyExchangeAlgorithm() {
	case ciphersuite.KeyExchangePSK:
		msg.IdentityHintOnly = true
		msg.IdentityHint = h.cfg.LocalPSKIdentityHint
		return h.queueOutbound(msg)
	case ciphersuite.KeyExchangeECDHEPSK, ciphersuite.KeyExchangeECDHEECDSA:
		priv, pub, err := elliptic.GenerateKeypair(h.chosenCurve)
		if err != nil {
			return nil, err
		}
		h.ecdhePrivate, h.ecdhePublic = priv, pub
		msg.IdentityHint = h.cfg.LocalPSKIdentityHint
		msg.EllipticCurveType = handshake.ECCurveTypeNamedCurve
		msg.NamedCurve = h.chosenCurve
		msg.PublicKey = pub

		if h.chosenSuite.KeyExchangeAlgorithm() == ciphersuite.KeyExchangeECDHEECDSA {
			_, privKeyBytes, err := h.cfg.Credentials.OwnCertificate()
			if err != nil {
				return nil, err
			}
			key, err := parseECPrivateKey(privKeyBytes)
			if err != nil {
				return nil, err
			}
			algo := h.signatureScheme()
			signed := signedParams(h.clientRandom.MarshalFixedSlice(), h.serverRandom.MarshalFixedSlice(), msg.NamedCurve, pub)
			sig, err := signaturehash.Sign(key, algo, signed)
			if err != nil {
				return nil, err
			}
			msg.HashAlgorithm = algo.Hash
			msg.SignatureAlgorithm = algo.Signature
			msg.Signature = sig
		}
		return h.queueOutbound(msg)
	default:
		return nil, errNoCipherSuiteChosen
	}
}

func (h *Handshaker) signatureScheme() signaturehash.Algorithm {
	if len(h.cfg.SignatureSchemes) > 0 {
		return h.cfg.SignatureSchemes[0]
	}
	return signaturehash.Algorithm{Hash: signaturehash.HashSHA256, Signature: signaturehash.SignatureECDSA}
}

// signedParams builds the data ECDHE-ECDSA ServerKeyExchange signs:
// client_random || server_random || curve_type || named_curve || point.
func signedParams(clientRandom, serverRandom []byte, curve elliptic.Curve, point []byte) []byte {
	out := append([]byte{}, clientRandom...)
	out = append(out, serverRandom...)
	out = append(out, byte(handshake.ECCurveTypeNamedCurve))
	out = append(out, byte(curve>>8), byte(curve))
	out = append(out, byte(len(point)))
	out = append(out, point...)
	return out
}

func parseECPrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("handshaker: private key is not ECDSA")
	}
	return ecKey, nil
}

// negotiate picks the highest-preference cipher suite cfg offers that
// the client also offered, and (for ECDHE suites) a curve both sides
// support. Returns ok=false if no suite clears both bars.
func (h *Handshaker) negotiate(m *handshake.MessageClientHello) (ciphersuite.ID, elliptic.Curve, bool) {
	offered := map[ciphersuite.ID]bool{}
	for _, id := range m.CipherSuiteIDs {
		offered[id] = true
	}
	clientCurves := map[extension.NamedCurve]bool{}
	for _, ext := range m.Extensions {
		if sec, ok := ext.(*extension.SupportedEllipticCurves); ok {
			for _, c := range sec.EllipticCurves {
				clientCurves[c] = true
			}
		}
	}

	for _, id := range h.cfg.CipherSuites {
		if !offered[id] {
			continue
		}
		if id.KeyExchangeAlgorithm() == ciphersuite.KeyExchangePSK {
			return id, 0, true
		}
		for _, c := range curvePreference() {
			if clientCurves[c] {
				return id, c, true
			}
		}
	}
	return 0, 0, false
}

func (h *Handshaker) onClientKeyExchange(hdr handshake.Header, m *handshake.MessageClientKeyExchange) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleServer {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	h.pushReceived(hdr, m)

	preMaster, err := h.preMasterFromClientKeyExchange(m)
	if err != nil {
		return nil, h.fail(err, alert.IllegalParameter), err
	}
	if err := h.finishKeyExchange(preMaster); err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	h.state = StateKeysExchanged
	return nil, nil, nil
}

func (h *Handshaker) preMasterFromClientKeyExchange(m *handshake.MessageClientKeyExchange) ([]byte, error) {
	switch h.chosenSuite.KeyExchangeAlgorithm() {
	case ciphersuite.KeyExchangePSK:
		psk, err := h.cfg.Credentials.LookupPSK(m.IdentityHint)
		if err != nil {
			return nil, err
		}
		h.pskIdentity, h.psk = m.IdentityHint, psk
		h.sess.Peer.PSKIdentity = m.IdentityHint
		return pskPreMasterSecret(psk), nil
	case ciphersuite.KeyExchangeECDHEPSK:
		psk, err := h.cfg.Credentials.LookupPSK(m.IdentityHint)
		if err != nil {
			return nil, err
		}
		h.pskIdentity, h.psk = m.IdentityHint, psk
		h.sess.Peer.PSKIdentity = m.IdentityHint
		h.peerECDHEPublic = m.PublicKey
		ecdheSecret, err := prf.PreMasterSecret(m.PublicKey, h.ecdhePrivate, h.chosenCurve)
		if err != nil {
			return nil, err
		}
		return ecdhePSKPreMasterSecret(ecdheSecret, psk), nil
	case ciphersuite.KeyExchangeECDHEECDSA:
		h.peerECDHEPublic = m.PublicKey
		return prf.PreMasterSecret(m.PublicKey, h.ecdhePrivate, h.chosenCurve)
	default:
		return nil, errNoCipherSuiteChosen
	}
}

// --- client side ---

func (h *Handshaker) onHelloVerifyRequest(m *handshake.MessageHelloVerifyRequest) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleClient || h.state != StateCookieSent {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	// HelloVerifyRequest is not counted in the Finished hash (RFC
	// 6347 §4.2.1); the retried ClientHello reuses message_seq 0, and
	// the server's real flight (built by a freshly allocated Handshaker
	// once the cookie validates) renumbers from 0 too, so this side's
	// receive-sequence gate resets right along with its send sequence.
	h.localMsgSeq = 0
	h.caches.cache.Reset()
	h.convSeq = 0
	h.nextReceiveSeq = 0
	h.pendingOrdered = nil
	h.caches.fragments = handshake.NewFragmentBuffer()

	records, err := h.sendClientHello(m.Cookie)
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	return records, nil, nil
}

func (h *Handshaker) onServerHello(hdr handshake.Header, m *handshake.MessageServerHello) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleClient || (h.state != StateCookieSent && h.state != StateHelloReceived) {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	if m.CipherSuiteID == nil {
		return nil, h.fail(errNoCipherSuiteChosen, alert.HandshakeFailure), errNoCipherSuiteChosen
	}

	h.serverRandom = m.Random
	h.chosenSuite = *m.CipherSuiteID
	h.pushReceived(hdr, m)
	if h.log != nil {
		h.log.Debugf("handshaker: <- server_hello %+v", m.MakeLog())
	}

	if len(h.sessionID) > 0 && len(m.SessionID) > 0 && string(h.sessionID) == string(m.SessionID) && h.cfg.Sessions != nil {
		if cached, ok := h.cfg.Sessions.Get(h.sessionID); ok && cached.CipherSuite == h.chosenSuite {
			h.isResumption = true
			h.sess.MasterSecret = cached.MasterSecret
			h.sess.CipherSuite = h.chosenSuite
			h.sess.ClientRandom = h.clientRandom.MarshalFixedSlice()
			h.sess.ServerRandom = h.serverRandom.MarshalFixedSlice()
			h.sess.Peer = cached.Peer
			h.state = StateHelloReceived
			if err := h.activateSessionKeys(); err != nil {
				return nil, h.fail(err, alert.InternalError), err
			}
			return nil, nil, nil
		}
	}
	h.sessionID = m.SessionID
	h.state = StateHelloReceived
	return nil, nil, nil
}

func (h *Handshaker) onCertificate(hdr handshake.Header, m *handshake.MessageCertificate) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleClient {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	h.pushReceived(hdr, m)
	h.peerCertChain = m.Certificate
	if err := h.cfg.Credentials.VerifyCertChain(m.Certificate, h.cfg.ServerName); err != nil {
		return nil, h.fail(err, alert.BadCertificate), err
	}
	h.sess.Peer.Certificates = m.Certificate
	return nil, nil, nil
}

func (h *Handshaker) onServerKeyExchange(hdr handshake.Header, m *handshake.MessageServerKeyExchange) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleClient {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	h.pushReceived(hdr, m)

	if m.IdentityHintOnly {
		psk, err := h.cfg.Credentials.LookupPSK(m.IdentityHint)
		if err != nil {
			return nil, h.fail(err, alert.HandshakeFailure), err
		}
		h.pskIdentity, h.psk = m.IdentityHint, psk
		return nil, nil, nil
	}

	if m.EllipticCurveType != handshake.ECCurveTypeNamedCurve {
		return nil, h.fail(errUnsupportedCurve, alert.HandshakeFailure), errUnsupportedCurve
	}
	h.chosenCurve = m.NamedCurve
	h.peerECDHEPublic = m.PublicKey

	if len(m.Signature) > 0 {
		if len(h.peerCertChain) == 0 {
			return nil, h.fail(errUnexpectedMessage, alert.HandshakeFailure), errUnexpectedMessage
		}
		leaf, err := x509.ParseCertificate(h.peerCertChain[0])
		if err != nil {
			return nil, h.fail(err, alert.BadCertificate), err
		}
		signed := signedParams(h.clientRandom.MarshalFixedSlice(), h.serverRandom.MarshalFixedSlice(), m.NamedCurve, m.PublicKey)
		algo := signaturehash.Algorithm{Hash: m.HashAlgorithm, Signature: m.SignatureAlgorithm}
		if err := signaturehash.Verify(leaf, algo, signed, m.Signature); err != nil {
			return nil, h.fail(err, alert.DecryptError), err
		}
	}

	if m.IdentityHintOnly == false && len(m.IdentityHint) > 0 {
		h.pskIdentity = m.IdentityHint
	}
	return nil, nil, nil
}

func (h *Handshaker) onServerHelloDone(hdr handshake.Header, m *handshake.MessageServerHelloDone) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	if h.role != RoleClient {
		return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
	}
	h.pushReceived(hdr, m)

	var records []*recordlayer.RecordLayer

	ckeMsg, preMaster, err := h.clientKeyExchangeMessage()
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	ckeRecords, err := h.queueOutbound(ckeMsg)
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	records = append(records, ckeRecords...)

	if err := h.finishKeyExchange(preMaster); err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}

	finishRecords, err := h.sendOwnCCSFinished()
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	records = append(records, finishRecords...)

	h.state = StateKeysExchanged
	h.armRetransmit(records, 0)
	return records, nil, nil
}

func (h *Handshaker) clientKeyExchangeMessage() (*handshake.MessageClientKeyExchange, []byte, error) {
	msg := &handshake.MessageClientKeyExchange{}
	switch h.chosenSuite.KeyExchangeAlgorithm() {
	case ciphersuite.KeyExchangePSK:
		identity, psk, err := h.localPSK()
		if err != nil {
			return nil, nil, err
		}
		msg.IdentityHint = identity
		return msg, pskPreMasterSecret(psk), nil
	case ciphersuite.KeyExchangeECDHEPSK:
		identity, psk, err := h.localPSK()
		if err != nil {
			return nil, nil, err
		}
		priv, pub, err := elliptic.GenerateKeypair(h.chosenCurve)
		if err != nil {
			return nil, nil, err
		}
		h.ecdhePrivate, h.ecdhePublic = priv, pub
		msg.IdentityHint = identity
		msg.PublicKey = pub
		ecdheSecret, err := prf.PreMasterSecret(h.peerECDHEPublic, priv, h.chosenCurve)
		if err != nil {
			return nil, nil, err
		}
		return msg, ecdhePSKPreMasterSecret(ecdheSecret, psk), nil
	case ciphersuite.KeyExchangeECDHEECDSA:
		priv, pub, err := elliptic.GenerateKeypair(h.chosenCurve)
		if err != nil {
			return nil, nil, err
		}
		h.ecdhePrivate, h.ecdhePublic = priv, pub
		msg.PublicKey = pub
		preMaster, err := prf.PreMasterSecret(h.peerECDHEPublic, priv, h.chosenCurve)
		if err != nil {
			return nil, nil, err
		}
		return msg, preMaster, nil
	default:
		return nil, nil, errNoCipherSuiteChosen
	}
}

func (h *Handshaker) localPSK() ([]byte, []byte, error) {
	if len(h.pskIdentity) == 0 {
		return nil, nil, ErrPSKIdentityNotFound
	}
	psk, err := h.cfg.Credentials.LookupPSK(h.pskIdentity)
	if err != nil {
		return nil, nil, err
	}
	return h.pskIdentity, psk, nil
}

func (h *Handshaker) onCertificateVerify(hdr handshake.Header, m *handshake.MessageCertificateVerify) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	// Client-certificate mutual authentication is out of scope: this
	// connector never sends CertificateRequest, so a CertificateVerify
	// should never legitimately arrive.
	h.pushReceived(hdr, m)
	return nil, h.fail(errUnexpectedMessage, alert.UnexpectedMessage), errUnexpectedMessage
}

// --- shared: key derivation, Finished, CCS ---

func (h *Handshaker) finishKeyExchange(preMasterSecret []byte) error {
	masterSecret, err := prf.MasterSecret(preMasterSecret, h.clientRandom.MarshalFixedSlice(), h.serverRandom.MarshalFixedSlice(), sha256.New)
	if err != nil {
		return err
	}
	h.sess.MasterSecret = masterSecret
	h.sess.ClientRandom = h.clientRandom.MarshalFixedSlice()
	h.sess.ServerRandom = h.serverRandom.MarshalFixedSlice()
	h.sess.CipherSuite = h.chosenSuite
	return h.activateSessionKeys()
}

// activateSessionKeys derives traffic keys for the chosen suite from
// the current master secret and randoms, then installs them as the
// next epoch on both directions at once. It must run as soon as the
// master secret is settled — full handshake or resumption alike — and
// strictly before the peer's Finished (sent at the new epoch) can
// arrive, since that record can only be decrypted once the new remote
// keys are active.
func (h *Handshaker) activateSessionKeys() error {
	if err := h.sess.DeriveKeys(h.chosenSuite); err != nil {
		return err
	}
	h.sess.ActivatePendingKeys()
	return nil
}

// sendOwnCCSFinished sends ChangeCipherSpec followed by Finished at
// the new local epoch. Key activation has already happened by the
// time this runs (activateSessionKeys), either from finishKeyExchange
// or directly from the resumption branches.
func (h *Handshaker) sendOwnCCSFinished() ([]*recordlayer.RecordLayer, error) {
	if h.weHaveSentFinished {
		return nil, nil
	}
	newEpoch := h.sess.LocalEpoch()

	ccs := changeCipherSpecRecord()
	ccs.Header.Epoch = newEpoch - 1

	verifyData, err := h.ownVerifyData()
	if err != nil {
		return nil, err
	}
	finishedMsg := &handshake.MessageFinished{VerifyData: verifyData}
	if h.log != nil {
		h.log.Debugf("handshaker: -> finished %+v", finishedMsg.MakeLog())
	}
	finRecords, err := h.queueOutbound(finishedMsg)
	if err != nil {
		return nil, err
	}
	for _, r := range finRecords {
		r.Header.Epoch = newEpoch
	}

	h.weHaveSentFinished = true

	out := append([]*recordlayer.RecordLayer{ccs}, finRecords...)
	h.lastFlightEpoch = newEpoch
	return out, nil
}

func (h *Handshaker) ownVerifyData() ([]byte, error) {
	seq := h.convSeq // the slot this Finished is about to occupy
	digest := h.caches.cache.DigestUpTo(seq)
	if h.role == RoleClient {
		return prf.VerifyDataClient(h.sess.MasterSecret, digest, sha256.New)
	}
	return prf.VerifyDataServer(h.sess.MasterSecret, digest, sha256.New)
}

func (h *Handshaker) onFinished(epoch uint16, hdr handshake.Header, m *handshake.MessageFinished) ([]*recordlayer.RecordLayer, *alert.Alert, error) {
	expectedLabel := h.role == RoleClient // client verifies the SERVER's Finished, so expect server label
	digest := h.caches.cache.DigestUpTo(h.convSeq)

	var expected []byte
	var err error
	if expectedLabel {
		expected, err = prf.VerifyDataServer(h.sess.MasterSecret, digest, sha256.New)
	} else {
		expected, err = prf.VerifyDataClient(h.sess.MasterSecret, digest, sha256.New)
	}
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}
	if !constantTimeEqual(expected, m.VerifyData) {
		mismatch := fmt.Errorf("handshaker: finished verify_data mismatch")
		return nil, h.fail(mismatch, alert.DecryptError), mismatch
	}
	h.pushReceived(hdr, m)
	if h.log != nil {
		h.log.Debugf("handshaker: <- finished %+v", m.MakeLog())
	}

	h.state = StateFinishedReceived

	// sendOwnCCSFinished no-ops if this side already sent its own
	// Finished earlier in the flow (full-handshake server after
	// verifying the client's; resumption client after activating keys
	// in onServerHello), so it is always safe to attempt here.
	records, err := h.sendOwnCCSFinished()
	if err != nil {
		return nil, h.fail(err, alert.InternalError), err
	}

	h.established = true
	h.state = StateEstablished
	h.cancelRetransmit()
	if h.cfg.Sessions != nil {
		h.sess.ID = h.sessionID
		h.cfg.Sessions.Put(h.sess)
	}
	return records, nil, nil
}

// --- retransmission ---

func (h *Handshaker) armRetransmit(flight []*recordlayer.RecordLayer, epoch uint16) {
	h.cancelRetransmit()
	h.lastFlight = flight
	h.lastFlightEpoch = epoch
	h.retransmitCount = 0
	h.scheduleRetransmit()
}

func (h *Handshaker) scheduleRetransmit() {
	if h.cfg.Timers == nil || h.established || h.state == StateFailed {
		return
	}
	backoff := h.cfg.retransmitInterval() * time.Duration(1<<uint(h.retransmitCount))
	h.timer = h.cfg.Timers.ScheduleAfter(backoff, h.onRetransmitTimeout)
}

func (h *Handshaker) cancelRetransmit() {
	if h.timer != nil && h.cfg.Timers != nil {
		h.cfg.Timers.Cancel(h.timer)
	}
	h.timer = nil
}

// onRetransmitTimeout is invoked by the TimerService when a flight has
// gone unanswered. The caller wires this to re-send h.lastFlight; this
// method only updates bookkeeping and flags failure once the
// configured retry budget is exhausted.
func (h *Handshaker) onRetransmitTimeout() {
	if h.established || h.state == StateFailed {
		return
	}
	h.retransmitCount++
	if h.retransmitCount > h.cfg.maxRetransmissions() {
		h.fail(ErrHandshakeTimeout, alert.InternalError)
		return
	}
	h.scheduleRetransmit()
}

// PendingRetransmit returns the last flight sent and the epoch it was
// sent at, for a caller driving actual re-send off onRetransmitTimeout
// (e.g. via a callback wired at construction time).
func (h *Handshaker) PendingRetransmit() ([]*recordlayer.RecordLayer, uint16) {
	return h.lastFlight, h.lastFlightEpoch
}

// --- helpers ---

func (h *Handshaker) fail(cause error, desc alert.Description) *alert.Alert {
	h.state = StateFailed
	h.failed = true
	h.failCause = cause
	h.cancelRetransmit()
	if h.log != nil {
		h.log.Warnf("handshaker: failing: %v", cause)
	}
	return &alert.Alert{Level: alert.Fatal, Description: desc}
}

// queueOutbound marshals msg under the next local message_seq,
// fragments it to the configured MTU, and records it (unfragmented)
// into the Finished hash cache.
func (h *Handshaker) queueOutbound(msg handshake.Message) ([]*recordlayer.RecordLayer, error) {
	seq := h.localMsgSeq
	h.localMsgSeq++

	records, err := fragmentMessage(seq, msg, h.cfg.mtu())
	if err != nil {
		return nil, err
	}
	h.pushSent(seq, msg)
	return records, nil
}

func (h *Handshaker) pushSent(seq uint16, msg handshake.Message) {
	canonical := &handshake.Handshake{Header: handshake.Header{MessageSequence: seq}, Message: msg}
	data, err := canonical.Marshal()
	if err != nil {
		return
	}
	h.caches.cache.Push(data, h.convSeq, msg.Type(), h.role == RoleClient)
	h.convSeq++
}

func (h *Handshaker) pushReceived(hdr handshake.Header, msg handshake.Message) {
	canonical := &handshake.Handshake{Header: handshake.Header{MessageSequence: hdr.MessageSequence}, Message: msg}
	data, err := canonical.Marshal()
	if err != nil {
		return
	}
	h.caches.cache.Push(data, h.convSeq, msg.Type(), h.role != RoleClient)
	h.convSeq++
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
