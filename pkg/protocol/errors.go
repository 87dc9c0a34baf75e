// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package protocol

import "fmt"

// DecodeError reports where and why decoding a wire structure failed.
// The record layer and extension decoders return one; the handshake
// message decoders in pkg/protocol/handshake return plain sentinel
// errors without an offset.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dtls: decode error at offset %d: %s", e.Offset, e.Reason)
}

// NewDecodeError builds a DecodeError.
func NewDecodeError(offset int, reason string) error {
	return &DecodeError{Offset: offset, Reason: reason}
}
