// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package extension implements the TLS/DTLS Hello extensions this
// connector negotiates.
package extension

import (
	"encoding/binary"

	"github.com/birotaio/californium/pkg/protocol"
)

// TypeValue is the extension ID, as registered by IANA.
type TypeValue uint16

// Extension type values relevant to this connector.
const (
	SupportedEllipticCurvesTypeValue TypeValue = 10
	SupportedPointFormatsTypeValue   TypeValue = 11
	UseSRTPTypeValue                 TypeValue = 14
	ALPNTypeValue                    TypeValue = 16
	UseExtendedMasterSecretTypeValue TypeValue = 23
	RenegotiationInfoTypeValue       TypeValue = 0xff01
	ConnectionIDTypeValue            TypeValue = 54
)

// Extension is a TLS extension
type Extension interface {
	TypeValue() TypeValue
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

func decodeExtensionMap() map[TypeValue]func() Extension { //nolint:gochecknoglobals
	return map[TypeValue]func() Extension{
		SupportedEllipticCurvesTypeValue: func() Extension { return &SupportedEllipticCurves{} },
		SupportedPointFormatsTypeValue:   func() Extension { return &SupportedPointFormats{} },
		ALPNTypeValue:                    func() Extension { return &ALPN{} },
		UseExtendedMasterSecretTypeValue: func() Extension { return &UseExtendedMasterSecret{} },
		RenegotiationInfoTypeValue:       func() Extension { return &RenegotiationInfo{} },
	}
}

// Marshal encodes a list of extensions to the wire format used by
// ClientHello/ServerHello: a 2-byte total length followed by
// (type uint16, length uint16, body) tuples.
func Marshal(extensions []Extension) ([]byte, error) {
	body := []byte{}
	for _, e := range extensions {
		raw, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		header := make([]byte, 4)
		binary.BigEndian.PutUint16(header, uint16(e.TypeValue()))
		binary.BigEndian.PutUint16(header[2:], uint16(len(raw)))
		body = append(body, header...)
		body = append(body, raw...)
	}

	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	return append(out, body...), nil
}

// Unmarshal decodes extensions, skipping any that are not recognized.
func Unmarshal(data []byte) ([]Extension, error) {
	if len(data) < 2 {
		return nil, protocol.NewDecodeError(0, "extensions: truncated length prefix")
	}
	declared := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if declared > len(data) {
		return nil, protocol.NewDecodeError(2, "extensions: length prefix overflows buffer")
	}
	data = data[:declared]

	decoders := decodeExtensionMap()

	extensions := []Extension{}
	offset := 0
	for offset < len(data) {
		if len(data)-offset < 4 {
			return nil, protocol.NewDecodeError(offset, "extensions: truncated header")
		}
		typeValue := TypeValue(binary.BigEndian.Uint16(data[offset:]))
		length := int(binary.BigEndian.Uint16(data[offset+2:]))
		offset += 4
		if offset+length > len(data) {
			return nil, protocol.NewDecodeError(offset, "extensions: body overflows buffer")
		}
		body := data[offset : offset+length]
		offset += length

		newExt, ok := decoders[typeValue]
		if !ok {
			continue // unsupported extension, ignore per RFC 5246 §7.4.1.4
		}
		ext := newExt()
		if err := ext.Unmarshal(body); err != nil {
			return nil, err
		}
		extensions = append(extensions, ext)
	}
	return extensions, nil
}
