// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

import "github.com/birotaio/californium/pkg/protocol"

// MessageHelloVerifyRequest is sent from the server to the client in
// response to a ClientHello that carried no (or an invalid) cookie. It
// carries a stateless cookie the client must echo in a subsequent
// ClientHello before a Handshaker is created for it.
//
// https://tools.ietf.org/html/rfc6347#section-4.2.1
type MessageHelloVerifyRequest struct {
	Version protocol.Version
	Cookie  []byte
}

// Type returns the Handshake Type
func (m MessageHelloVerifyRequest) Type() Type {
	return TypeHelloVerifyRequest
}

// Marshal encodes the Handshake
func (m *MessageHelloVerifyRequest) Marshal() ([]byte, error) {
	if len(m.Cookie) > 255 {
		return nil, errCookieTooLong
	}
	out := make([]byte, 2)
	out[0] = m.Version.Major
	out[1] = m.Version.Minor
	out = append(out, byte(len(m.Cookie)))
	return append(out, m.Cookie...), nil
}

// Unmarshal populates the message from encoded data
func (m *MessageHelloVerifyRequest) Unmarshal(data []byte) error {
	if len(data) < 3 {
		return errBufferTooSmall
	}
	m.Version.Major = data[0]
	m.Version.Minor = data[1]
	n := int(data[2])
	if len(data) < 3+n {
		return errBufferTooSmall
	}
	m.Cookie = append([]byte{}, data[3:3+n]...)
	return nil
}
