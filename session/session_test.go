// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package session

import (
	"bytes"
	"testing"

	"github.com/birotaio/californium/pkg/crypto/ciphersuite"
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

func pairedSessions(t *testing.T) (client, server *Session) {
	t.Helper()
	client = New([]byte{0x01}, true, DefaultReplayProtectionWindow)
	server = New([]byte{0x01}, false, DefaultReplayProtectionWindow)

	client.MasterSecret = bytes.Repeat([]byte{0x42}, 48)
	server.MasterSecret = bytes.Repeat([]byte{0x42}, 48)
	client.ClientRandom, server.ClientRandom = bytes.Repeat([]byte{0x01}, 32), bytes.Repeat([]byte{0x01}, 32)
	client.ServerRandom, server.ServerRandom = bytes.Repeat([]byte{0x02}, 32), bytes.Repeat([]byte{0x02}, 32)

	id := ciphersuite.TLS_PSK_WITH_AES_128_GCM_SHA256
	if err := client.DeriveKeys(id); err != nil {
		t.Fatal(err)
	}
	if err := server.DeriveKeys(id); err != nil {
		t.Fatal(err)
	}
	client.ActivatePendingKeys()
	server.ActivatePendingKeys()
	return client, server
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	client, server := pairedSessions(t)

	rl := &recordlayer.RecordLayer{
		Header: recordlayer.Header{
			Epoch:   1,
			Version: protocol.Version1_2,
		},
		Content: &protocol.ApplicationData{Data: []byte("hello dtls")},
	}

	raw, err := client.EncryptOutbound(rl)
	if err != nil {
		t.Fatal(err)
	}

	var h recordlayer.Header
	if err := h.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}

	plaintext, err := server.DecryptInbound(h.Epoch, h.SequenceNumber, raw)
	if err != nil {
		t.Fatal(err)
	}

	var out recordlayer.RecordLayer
	if err := out.Unmarshal(plaintext); err != nil {
		t.Fatal(err)
	}
	appData, ok := out.Content.(*protocol.ApplicationData)
	if !ok {
		t.Fatalf("expected ApplicationData, got %T", out.Content)
	}
	if !bytes.Equal(appData.Data, []byte("hello dtls")) {
		t.Fatalf("payload mismatch: got %q", appData.Data)
	}
}

func TestDecryptInboundRejectsReplay(t *testing.T) {
	client, server := pairedSessions(t)

	rl := &recordlayer.RecordLayer{
		Header:  recordlayer.Header{Epoch: 1, Version: protocol.Version1_2},
		Content: &protocol.ApplicationData{Data: []byte("x")},
	}
	raw, err := client.EncryptOutbound(rl)
	if err != nil {
		t.Fatal(err)
	}
	var h recordlayer.Header
	if err := h.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}

	if _, err := server.DecryptInbound(h.Epoch, h.SequenceNumber, raw); err != nil {
		t.Fatalf("first delivery should succeed: %v", err)
	}
	if _, err := server.DecryptInbound(h.Epoch, h.SequenceNumber, raw); err != ErrReplayDropped {
		t.Fatalf("expected ErrReplayDropped, got %v", err)
	}
}

func TestEncryptOutboundSequenceIncrements(t *testing.T) {
	client, _ := pairedSessions(t)

	for want := uint64(0); want < 3; want++ {
		rl := &recordlayer.RecordLayer{
			Header:  recordlayer.Header{Epoch: 1, Version: protocol.Version1_2},
			Content: &protocol.ApplicationData{Data: []byte("x")},
		}
		raw, err := client.EncryptOutbound(rl)
		if err != nil {
			t.Fatal(err)
		}
		var h recordlayer.Header
		if err := h.Unmarshal(raw); err != nil {
			t.Fatal(err)
		}
		if h.SequenceNumber != want {
			t.Fatalf("sequence number: got %d want %d", h.SequenceNumber, want)
		}
	}
}
