// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import (
	"errors"
	"net"
	"testing"

	"github.com/birotaio/californium/pkg/crypto/ciphersuite"
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
	"github.com/birotaio/californium/session"
)

type fakeCredentials struct {
	identity []byte
	psk      []byte
}

func (f *fakeCredentials) LookupPSK(identity []byte) ([]byte, error) {
	if string(identity) != string(f.identity) {
		return nil, ErrPSKIdentityNotFound
	}
	return f.psk, nil
}

func (f *fakeCredentials) VerifyCertChain([][]byte, string) error { return nil }
func (f *fakeCredentials) TrustedRPKs() [][]byte                  { return nil }
func (f *fakeCredentials) OwnCertificate() ([][]byte, []byte, error) {
	return nil, nil, ErrNoCertificates
}

type memSessionCache struct {
	byID map[string]*session.Session
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{byID: map[string]*session.Session{}}
}

func (c *memSessionCache) Get(id []byte) (*session.Session, bool) {
	s, ok := c.byID[string(id)]
	return s, ok
}

func (c *memSessionCache) Put(sess *session.Session) {
	if len(sess.ID) == 0 {
		return
	}
	cp := *sess
	c.byID[string(sess.ID)] = &cp
}

func testAddr() net.Addr { return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000} }

func newTestConfig(role Role, creds *fakeCredentials, sessions SessionCache) *Config {
	return &Config{
		Role:             role,
		Credentials:      creds,
		Sessions:         sessions,
		CipherSuites:     []ciphersuite.ID{ciphersuite.TLS_PSK_WITH_AES_128_GCM_SHA256},
		MTU:              1200,
		LocalPSKIdentityHint: creds.identity,
	}
}

// deliverFlight feeds every record of one flight into dst and returns
// whatever flight that processing produced in response.
func deliverFlight(t *testing.T, dst *Handshaker, flight []*recordlayer.RecordLayer) []*recordlayer.RecordLayer {
	t.Helper()
	var out []*recordlayer.RecordLayer
	for _, rec := range flight {
		switch rec.Content.ContentType() {
		case protocol.ContentTypeChangeCipherSpec:
			if err := dst.HandleChangeCipherSpec(); err != nil {
				t.Fatalf("HandleChangeCipherSpec: %v", err)
			}
		case protocol.ContentTypeHandshake:
			body, err := rec.Content.Marshal()
			if err != nil {
				t.Fatalf("marshal handshake fragment: %v", err)
			}
			next, al, err := dst.HandleHandshakeFragment(rec.Header.Epoch, body)
			if err != nil {
				t.Fatalf("HandleHandshakeFragment: %v (alert %+v)", err, al)
			}
			out = append(out, next...)
		default:
			t.Fatalf("unexpected content type %v in flight", rec.Content.ContentType())
		}
	}
	return out
}

// runToEstablished alternates delivering each produced flight to
// whichever side didn't just send it, starting from the client's
// initial ClientHello, until both sides report ESTABLISHED or the
// round budget runs out.
func runToEstablished(t *testing.T, client, server *Handshaker, first []*recordlayer.RecordLayer) {
	t.Helper()
	pending := first
	turn, other := server, client

	for round := 0; round < 10; round++ {
		if len(pending) == 0 {
			break
		}
		out := deliverFlight(t, turn, pending)
		if client.Established() && server.Established() {
			return
		}
		pending = out
		turn, other = other, turn
	}

	if !client.Established() || !server.Established() {
		t.Fatalf("handshake did not establish: client=%s (%v) server=%s (%v)",
			client.State(), client.Err(), server.State(), server.Err())
	}
}

func TestHandshakerFullPSK(t *testing.T) {
	creds := &fakeCredentials{identity: []byte("device-1"), psk: []byte("super-secret-psk")}

	clientSess := session.New(nil, true, 64)
	serverSess := session.New(nil, false, 64)

	clientCfg := newTestConfig(RoleClient, creds, nil)
	serverCfg := newTestConfig(RoleServer, creds, nil)

	client := NewClient(clientCfg, clientSess, testAddr())
	server := NewServer(serverCfg, serverSess, testAddr())

	first, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}

	runToEstablished(t, client, server, first)

	if client.State() != StateEstablished || server.State() != StateEstablished {
		t.Fatalf("unexpected terminal states: client=%s server=%s", client.State(), server.State())
	}
	if clientSess.CipherSuite != ciphersuite.TLS_PSK_WITH_AES_128_GCM_SHA256 {
		t.Fatalf("client negotiated wrong suite: %v", clientSess.CipherSuite)
	}
	if serverSess.CipherSuite != clientSess.CipherSuite {
		t.Fatalf("client/server suite mismatch: %v vs %v", clientSess.CipherSuite, serverSess.CipherSuite)
	}
	if string(clientSess.MasterSecret) != string(serverSess.MasterSecret) {
		t.Fatalf("client/server master secrets diverged")
	}
	if clientSess.LocalEpoch() != 1 || clientSess.RemoteEpoch() != 1 {
		t.Fatalf("client epochs not advanced: local=%d remote=%d", clientSess.LocalEpoch(), clientSess.RemoteEpoch())
	}
	if serverSess.LocalEpoch() != 1 || serverSess.RemoteEpoch() != 1 {
		t.Fatalf("server epochs not advanced: local=%d remote=%d", serverSess.LocalEpoch(), serverSess.RemoteEpoch())
	}
}

func TestHandshakerAbbreviatedResumption(t *testing.T) {
	creds := &fakeCredentials{identity: []byte("device-1"), psk: []byte("super-secret-psk")}
	clientCache := newMemSessionCache()
	serverCache := newMemSessionCache()

	// First, a full handshake to populate both session caches.
	clientSess1 := session.New(nil, true, 64)
	serverSess1 := session.New(nil, false, 64)
	clientCfg1 := newTestConfig(RoleClient, creds, clientCache)
	serverCfg1 := newTestConfig(RoleServer, creds, serverCache)

	client1 := NewClient(clientCfg1, clientSess1, testAddr())
	server1 := NewServer(serverCfg1, serverSess1, testAddr())

	first, err := client1.Start()
	if err != nil {
		t.Fatalf("client1.Start: %v", err)
	}
	runToEstablished(t, client1, server1, first)

	if len(clientSess1.ID) == 0 {
		t.Fatalf("expected a negotiated session id after the full handshake")
	}

	// Second handshake: client offers the cached session id, both sides
	// should recognize it and skip the key exchange messages entirely.
	clientSess2 := session.New(nil, true, 64)
	serverSess2 := session.New(nil, false, 64)
	clientCfg2 := newTestConfig(RoleClient, creds, clientCache)
	serverCfg2 := newTestConfig(RoleServer, creds, serverCache)

	client2 := NewClient(clientCfg2, clientSess2, testAddr())
	server2 := NewServer(serverCfg2, serverSess2, testAddr())
	client2.sessionID = append([]byte{}, clientSess1.ID...)

	second, err := client2.Start()
	if err != nil {
		t.Fatalf("client2.Start: %v", err)
	}
	runToEstablished(t, client2, server2, second)

	if !client2.isResumption || !server2.isResumption {
		t.Fatalf("expected both sides to recognize resumption: client=%v server=%v", client2.isResumption, server2.isResumption)
	}
	if string(clientSess2.MasterSecret) != string(clientSess1.MasterSecret) {
		t.Fatalf("resumed handshake did not reuse the cached master secret")
	}
	if string(clientSess2.MasterSecret) != string(serverSess2.MasterSecret) {
		t.Fatalf("client/server master secrets diverged on resumption")
	}
	// Reusing the cached master secret must still activate the new
	// session's keys: both sides have moved to epoch 1.
	if clientSess2.LocalEpoch() != 1 || serverSess2.LocalEpoch() != 1 {
		t.Fatalf("resumed handshake did not activate epoch 1")
	}
}

func TestHandshakerUnknownPSKIdentityFails(t *testing.T) {
	clientCreds := &fakeCredentials{identity: []byte("device-1"), psk: []byte("super-secret-psk")}
	serverCreds := &fakeCredentials{identity: []byte("device-2"), psk: []byte("different-psk")}

	clientSess := session.New(nil, true, 64)
	serverSess := session.New(nil, false, 64)
	client := NewClient(newTestConfig(RoleClient, clientCreds, nil), clientSess, testAddr())
	server := NewServer(newTestConfig(RoleServer, serverCreds, nil), serverSess, testAddr())

	first, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}

	flight2 := deliverFlight(t, server, first)

	// The server's ServerKeyExchange hints at an identity ("device-2")
	// the client's credential store has never heard of, so the client
	// must fail as soon as it processes that message rather than
	// continuing the handshake.
	var failed bool
	for _, rec := range flight2 {
		body, err := rec.Content.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, _, err := client.HandleHandshakeFragment(rec.Header.Epoch, body); err != nil {
			failed = true
			break
		}
	}

	if !failed || client.State() != StateFailed {
		t.Fatalf("expected client to fail on the unresolvable PSK hint, got state=%s err=%v", client.State(), client.Err())
	}
	if !errors.Is(client.Err(), ErrPSKIdentityNotFound) {
		t.Fatalf("expected ErrPSKIdentityNotFound, got %v", client.Err())
	}
}
