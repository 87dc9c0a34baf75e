// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

// cacheEntry is one handshake message (header + body, exactly as it
// travels on the wire before fragmentation) recorded for verify_data
// computation.
type cacheEntry struct {
	typ             Type
	messageSequence uint16
	isClient        bool
	data            []byte // header + body, unfragmented
}

// Cache accumulates every handshake message sent or received on a
// Connection, in the order needed to compute Finished.VerifyData: the
// TLS 1.2 PRF is run over the concatenation of every handshake message
// up to (but excluding) the Finished message itself, ordered by
// message_seq regardless of which side sent it or what order the
// packets actually arrived in.
type Cache struct {
	entries []cacheEntry
}

// NewCache allocates an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Push records one complete (reassembled) handshake message.
func (c *Cache) Push(data []byte, messageSequence uint16, typ Type, isClient bool) {
	c.entries = append(c.entries, cacheEntry{
		typ:             typ,
		messageSequence: messageSequence,
		isClient:        isClient,
		data:            append([]byte{}, data...),
	})
}

// DigestUpTo concatenates every cached message with message_seq strictly
// less than upToSeq, in message_seq order, for use as the PRF seed.
func (c *Cache) DigestUpTo(upToSeq uint16) []byte {
	type indexed struct {
		seq  uint16
		data []byte
	}
	var ordered []indexed
	for _, e := range c.entries {
		if e.messageSequence < upToSeq {
			ordered = append(ordered, indexed{seq: e.messageSequence, data: e.data})
		}
	}
	// stable insertion sort: message counts are small (single handshake)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].seq > ordered[j].seq; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}

	out := []byte{}
	for _, e := range ordered {
		out = append(out, e.data...)
	}
	return out
}

// Reset clears the cache, used when a fresh handshake replaces an
// in-progress one (RFC 6347 §4.2.8 cannot reuse verify-data context).
func (c *Cache) Reset() {
	c.entries = nil
}
