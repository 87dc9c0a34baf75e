// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshake

import "sort"

// interval is a half-open byte range [Start, End) received for a
// message under reassembly.
type interval struct {
	Start, End uint32
}

// partial is the in-progress reassembly state for one message_seq: its
// total length, the bytes received so far, and the sorted, merged set
// of intervals covering what has arrived. A message is complete iff
// the interval set reduces to exactly [0, TotalLength).
type partial struct {
	Type        Type
	TotalLength uint32
	Buffer      []byte
	Received    []interval
}

func (p *partial) addFragment(offset, length uint32, body []byte) {
	if int(offset+length) > len(p.Buffer) {
		grown := make([]byte, offset+length)
		copy(grown, p.Buffer)
		p.Buffer = grown
	}
	copy(p.Buffer[offset:offset+length], body)

	p.Received = append(p.Received, interval{Start: offset, End: offset + length})
	sort.Slice(p.Received, func(i, j int) bool { return p.Received[i].Start < p.Received[j].Start })

	merged := p.Received[:0]
	for _, iv := range p.Received {
		if len(merged) > 0 && iv.Start <= merged[len(merged)-1].End {
			if iv.End > merged[len(merged)-1].End {
				merged[len(merged)-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	p.Received = merged
}

func (p *partial) complete() bool {
	return len(p.Received) == 1 && p.Received[0].Start == 0 && p.Received[0].End == p.TotalLength
}

// FragmentBuffer reassembles handshake messages that arrive split across
// multiple DTLS records (out of order, overlapping, or duplicated), keyed
// by message_seq. A message is handed to the caller exactly once, the
// first time its interval set covers [0, TotalLength).
type FragmentBuffer struct {
	partials map[uint16]*partial
	done     map[uint16]bool
}

// NewFragmentBuffer allocates an empty FragmentBuffer.
func NewFragmentBuffer() *FragmentBuffer {
	return &FragmentBuffer{
		partials: map[uint16]*partial{},
		done:     map[uint16]bool{},
	}
}

// Push feeds one fragment (a single handshake record's header + body)
// into the buffer. It returns the reassembled Handshake the first time
// the message_seq becomes complete; subsequent fragments (or duplicate
// completions) return (nil, false, nil).
func (f *FragmentBuffer) Push(raw []byte) (*Handshake, bool, error) {
	var header Header
	if err := header.Unmarshal(raw); err != nil {
		return nil, false, err
	}
	body := raw[HeaderLength:]
	if uint32(len(body)) < header.FragmentLength {
		return nil, false, errBufferTooSmall
	}
	body = body[:header.FragmentLength]

	if f.done[header.MessageSequence] {
		return nil, false, nil
	}

	p, ok := f.partials[header.MessageSequence]
	if !ok {
		p = &partial{Type: header.Type, TotalLength: header.Length}
		f.partials[header.MessageSequence] = p
	}
	p.addFragment(header.FragmentOffset, header.FragmentLength, body)

	if !p.complete() {
		return nil, false, nil
	}

	msg, err := NewMessage(p.Type)
	if err != nil {
		return nil, false, err
	}
	if err := msg.Unmarshal(p.Buffer); err != nil {
		return nil, false, err
	}

	f.done[header.MessageSequence] = true
	delete(f.partials, header.MessageSequence)

	return &Handshake{
		Header: Header{
			Type:            p.Type,
			Length:          p.TotalLength,
			MessageSequence: header.MessageSequence,
			FragmentOffset:  0,
			FragmentLength:  p.TotalLength,
		},
		Message: msg,
	}, true, nil
}

// Pending reports whether a message_seq has a reassembly in progress
// that is not yet complete.
func (f *FragmentBuffer) Pending(seq uint16) bool {
	_, ok := f.partials[seq]
	return ok
}
