// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package handshaker

import (
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/handshake"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// rawHandshakeContent carries an already-encoded handshake fragment
// (12-byte fragment header + body slice) as a record's Content,
// bypassing handshake.Handshake.Marshal (which only ever emits a
// whole, unfragmented message) so a single logical message can be
// split across several records when it would not fit under the MTU.
type rawHandshakeContent []byte

func (r rawHandshakeContent) ContentType() protocol.ContentType { return protocol.ContentTypeHandshake }
func (r rawHandshakeContent) Marshal() ([]byte, error)          { return []byte(r), nil }
func (r *rawHandshakeContent) Unmarshal([]byte) error           { return protocol.NewDecodeError(0, "rawHandshakeContent is send-only") }

// fragmentMessage splits one handshake message into records no larger
// than maxFragmentSize bytes of content, each carrying its own
// fragment_offset/fragment_length but the same message_seq, per RFC
// 6347 §4.2.3. A message that fits in one fragment still goes through
// this path, degenerating to a single full-size fragment.
func fragmentMessage(msgSeq uint16, msg handshake.Message, maxFragmentSize int) ([]*recordlayer.RecordLayer, error) {
	body, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	total := uint32(len(body))

	maxBody := maxFragmentSize - handshake.HeaderLength
	if maxBody <= 0 {
		maxBody = len(body)
		if maxBody == 0 {
			maxBody = 1
		}
	}

	var records []*recordlayer.RecordLayer
	for offset := 0; offset == 0 || offset < len(body); {
		end := offset + maxBody
		if end > len(body) {
			end = len(body)
		}
		h := handshake.Header{
			Type:            msg.Type(),
			Length:          total,
			MessageSequence: msgSeq,
			FragmentOffset:  uint32(offset),
			FragmentLength:  uint32(end - offset),
		}
		headerBytes, err := h.Marshal()
		if err != nil {
			return nil, err
		}
		content := rawHandshakeContent(append(headerBytes, body[offset:end]...))
		records = append(records, &recordlayer.RecordLayer{Content: &content})

		if end == len(body) {
			break
		}
		offset = end
	}
	return records, nil
}

// changeCipherSpecRecord builds the single-byte ChangeCipherSpec
// record that closes out a flight which just finished a key exchange.
func changeCipherSpecRecord() *recordlayer.RecordLayer {
	return &recordlayer.RecordLayer{Content: &protocol.ChangeCipherSpec{}}
}
