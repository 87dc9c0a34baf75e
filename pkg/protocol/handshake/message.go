// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package handshake implements the DTLS 1.2 handshake messages: their
// wire encoding, header/fragmentation bookkeeping, and the reassembly
// buffer that turns an arbitrary stream of fragments into complete
// logical messages.
package handshake

import "github.com/birotaio/californium/pkg/protocol"

// Message is a DTLS Handshake Message. Every concrete message type
// (ClientHello, ServerHello, ...) implements this.
type Message interface {
	Type() Type
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

func decodeMessageMap() map[Type]func() Message { //nolint:gochecknoglobals
	return map[Type]func() Message{
		TypeClientHello:        func() Message { return &MessageClientHello{} },
		TypeServerHello:        func() Message { return &MessageServerHello{} },
		TypeHelloVerifyRequest: func() Message { return &MessageHelloVerifyRequest{} },
		TypeCertificate:        func() Message { return &MessageCertificate{} },
		TypeServerKeyExchange:  func() Message { return &MessageServerKeyExchange{} },
		TypeServerHelloDone:    func() Message { return &MessageServerHelloDone{} },
		TypeCertificateVerify:  func() Message { return &MessageCertificateVerify{} },
		TypeClientKeyExchange:  func() Message { return &MessageClientKeyExchange{} },
		TypeFinished:           func() Message { return &MessageFinished{} },
	}
}

// NewMessage allocates a zero-value Message for the given Type, used by
// the fragment buffer once a message is fully reassembled.
func NewMessage(t Type) (Message, error) {
	newMsg, ok := decodeMessageMap()[t]
	if !ok {
		return nil, errUnknownHandshakeType
	}
	return newMsg(), nil
}

// Handshake wraps a Message with its header and implements
// protocol.Content so it can travel as a record's payload.
type Handshake struct {
	Header  Header
	Message Message
}

// ContentType returns the ContentType of this content
func (h Handshake) ContentType() protocol.ContentType {
	return protocol.ContentTypeHandshake
}

// Marshal encodes the whole (unfragmented) handshake message: header
// with FragmentOffset 0 and FragmentLength == Length, followed by the
// message body. Fragmentation for the wire is performed by the record
// layer, not here.
func (h *Handshake) Marshal() ([]byte, error) {
	body, err := h.Message.Marshal()
	if err != nil {
		return nil, err
	}

	h.Header.Type = h.Message.Type()
	h.Header.Length = uint32(len(body))
	h.Header.FragmentOffset = 0
	h.Header.FragmentLength = uint32(len(body))

	header, err := h.Header.Marshal()
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// Unmarshal populates the Handshake from a single, already-reassembled
// fragment buffer (header + full body).
func (h *Handshake) Unmarshal(data []byte) error {
	if err := h.Header.Unmarshal(data); err != nil {
		return err
	}

	newMsg, err := NewMessage(h.Header.Type)
	if err != nil {
		return err
	}

	if uint32(len(data)-HeaderLength) < h.Header.FragmentLength {
		return errBufferTooSmall
	}

	if err := newMsg.Unmarshal(data[HeaderLength : HeaderLength+int(h.Header.FragmentLength)]); err != nil {
		return err
	}
	h.Message = newMsg
	return nil
}
