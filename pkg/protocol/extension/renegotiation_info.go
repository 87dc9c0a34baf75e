// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package extension

// RenegotiationInfo defines a TLS extension that contains the
// renegotiation info. This connector never renegotiates: the extension
// is always sent and parsed empty, per spec Non-goal on renegotiation.
//
// https://tools.ietf.org/html/rfc5746
type RenegotiationInfo struct {
	RenegotiatedConnection byte
}

// TypeValue returns the extension TypeValue
func (r RenegotiationInfo) TypeValue() TypeValue {
	return RenegotiationInfoTypeValue
}

// Marshal encodes the extension
func (r *RenegotiationInfo) Marshal() ([]byte, error) {
	return []byte{r.RenegotiatedConnection}, nil
}

// Unmarshal populates the extension from binary
func (r *RenegotiationInfo) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return nil
	}
	r.RenegotiatedConnection = data[0]
	return nil
}
