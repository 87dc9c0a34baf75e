// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package protocol

// Version is the minor/major entry in a record header. DTLS versions are
// encoded as the one's complement of the TLS version they derive from.
//
// https://tools.ietf.org/html/rfc6347#section-4.2.1
type Version struct {
	Major, Minor uint8
}

// Version1_0 is DTLS 1.0
var Version1_0 = Version{Major: 0xfe, Minor: 0xff} //nolint:gochecknoglobals

// Version1_2 is DTLS 1.2
var Version1_2 = Version{Major: 0xfe, Minor: 0xfd} //nolint:gochecknoglobals
