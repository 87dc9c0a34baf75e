// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package extension

// UseExtendedMasterSecret defines a TLS extension that contains the
// extended master secret flag.
//
// https://tools.ietf.org/html/rfc7627
type UseExtendedMasterSecret struct {
	Supported bool
}

// TypeValue returns the extension TypeValue
func (u UseExtendedMasterSecret) TypeValue() TypeValue {
	return UseExtendedMasterSecretTypeValue
}

// Marshal encodes the extension
func (u *UseExtendedMasterSecret) Marshal() ([]byte, error) {
	return []byte{}, nil
}

// Unmarshal populates the extension from binary
func (u *UseExtendedMasterSecret) Unmarshal([]byte) error {
	u.Supported = true
	return nil
}
