// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package recordlayer

import (
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/alert"
	"github.com/birotaio/californium/pkg/protocol/handshake"
)

// RecordLayer represents one DTLS record: its header plus the decoded
// content (ChangeCipherSpec, Alert, Handshake, or ApplicationData).
//
// https://tools.ietf.org/html/rfc6347#section-4.1
type RecordLayer struct {
	Header  Header
	Content protocol.Content
}

// Marshal encodes the record: header followed by content, with
// Header.ContentLen and Header.ContentType populated from Content.
func (r *RecordLayer) Marshal() ([]byte, error) {
	if r.Content == nil {
		return nil, protocol.NewDecodeError(0, "record has no content")
	}
	body, err := r.Content.Marshal()
	if err != nil {
		return nil, err
	}
	r.Header.ContentType = r.Content.ContentType()
	r.Header.ContentLen = uint16(len(body))

	header, err := r.Header.Marshal()
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// Unmarshal decodes a single record (header + exactly ContentLen bytes
// of body) from the front of data.
func (r *RecordLayer) Unmarshal(data []byte) error {
	if err := r.Header.Unmarshal(data); err != nil {
		return err
	}
	body := data[FixedHeaderSize:]
	if uint16(len(body)) < r.Header.ContentLen {
		return protocol.NewDecodeError(FixedHeaderSize, "record content shorter than declared length")
	}
	body = body[:r.Header.ContentLen]

	content, err := newContent(r.Header.ContentType)
	if err != nil {
		return err
	}
	if err := content.Unmarshal(body); err != nil {
		return err
	}
	r.Content = content
	return nil
}

func newContent(t protocol.ContentType) (protocol.Content, error) {
	switch t {
	case protocol.ContentTypeChangeCipherSpec:
		return &protocol.ChangeCipherSpec{}, nil
	case protocol.ContentTypeAlert:
		return &alert.Alert{}, nil
	case protocol.ContentTypeHandshake:
		return &handshake.Handshake{}, nil
	case protocol.ContentTypeApplicationData:
		return &protocol.ApplicationData{}, nil
	default:
		return nil, protocol.NewDecodeError(0, "unknown record content type")
	}
}

// UnpackDatagram splits a single UDP datagram into the raw byte slices
// of each record it carries: a datagram may hold several records
// back-to-back, each self-describing its own ContentLen.
func UnpackDatagram(buf []byte) ([][]byte, error) {
	out := [][]byte{}
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < FixedHeaderSize {
			return nil, protocol.NewDecodeError(offset, "trailing bytes shorter than a record header")
		}
		var h Header
		if err := h.Unmarshal(buf[offset:]); err != nil {
			return nil, err
		}
		recordLen := FixedHeaderSize + int(h.ContentLen)
		if offset+recordLen > len(buf) {
			return nil, protocol.NewDecodeError(offset, "record length overflows datagram")
		}
		out = append(out, buf[offset:offset+recordLen])
		offset += recordLen
	}
	return out, nil
}
