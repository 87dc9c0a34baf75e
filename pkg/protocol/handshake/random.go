// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// RandomBytesLength is the size of the random byte payload that follows
// GMTUnixTime in a handshake Random.
const RandomBytesLength = 28

// RandomLength is the total size (GMTUnixTime + RandomBytes) of a
// handshake Random.
const RandomLength = RandomBytesLength + 4

// Random value for ClientHello and ServerHello.
//
// https://tools.ietf.org/html/rfc5246#section-7.4.1.2
type Random struct {
	GMTUnixTime time.Time
	RandomBytes [RandomBytesLength]byte
}

// MarshalFixed encodes the random value into a fixed-size array.
func (r *Random) MarshalFixed() [RandomLength]byte {
	var out [RandomLength]byte
	binary.BigEndian.PutUint32(out[0:4], uint32(r.GMTUnixTime.Unix()))
	copy(out[4:], r.RandomBytes[:])
	return out
}

// MarshalFixedSlice is MarshalFixed's result as a slice, for callers
// (PRF seeds, signed ServerKeyExchange params) that need []byte rather
// than a fixed array.
func (r *Random) MarshalFixedSlice() []byte {
	fixed := r.MarshalFixed()
	return fixed[:]
}

// UnmarshalFixed populates the random value from a fixed-size array.
func (r *Random) UnmarshalFixed(data [RandomLength]byte) {
	r.GMTUnixTime = time.Unix(int64(binary.BigEndian.Uint32(data[0:4])), 0)
	copy(r.RandomBytes[:], data[4:])
}

// Generate fills the Random with the current time and cryptographically
// random bytes, as both ClientHello and ServerHello require.
func (r *Random) Generate() error {
	r.GMTUnixTime = time.Now()
	_, err := rand.Read(r.RandomBytes[:])
	return err
}
