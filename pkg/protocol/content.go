// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package protocol

// Content is the body of a DTLS record: a ChangeCipherSpec, an Alert, a
// Handshake, or ApplicationData. recordlayer.RecordLayer embeds one.
type Content interface {
	ContentType() ContentType
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}
