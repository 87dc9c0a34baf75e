// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

// MessageCertificate carries an X.509 certificate chain, one DER entry
// per element of Certificate. Raw public keys (RFC 7250) are not
// negotiated: no certificate_type extension is sent or parsed.
//
// https://tools.ietf.org/html/rfc5246#section-7.4.2
// https://tools.ietf.org/html/rfc7250
type MessageCertificate struct {
	Certificate [][]byte
}

// Type returns the Handshake Type
func (m MessageCertificate) Type() Type {
	return TypeCertificate
}

// Marshal encodes the Handshake
func (m *MessageCertificate) Marshal() ([]byte, error) {
	out := make([]byte, 3)
	body := []byte{}
	for _, cert := range m.Certificate {
		certLen := make([]byte, 3)
		putUint24(certLen, uint32(len(cert)))
		body = append(body, certLen...)
		body = append(body, cert...)
	}
	putUint24(out, uint32(len(body)))
	return append(out, body...), nil
}

// Unmarshal populates the message from encoded data
func (m *MessageCertificate) Unmarshal(data []byte) error {
	if len(data) < 3 {
		return errBufferTooSmall
	}
	declared := int(getUint24(data))
	data = data[3:]
	if declared > len(data) {
		return errBufferTooSmall
	}
	data = data[:declared]

	offset := 0
	for offset < len(data) {
		if len(data)-offset < 3 {
			return errBufferTooSmall
		}
		n := int(getUint24(data[offset:]))
		offset += 3
		if offset+n > len(data) {
			return errBufferTooSmall
		}
		m.Certificate = append(m.Certificate, append([]byte{}, data[offset:offset+n]...))
		offset += n
	}
	return nil
}
