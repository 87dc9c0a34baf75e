// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package session

import (
	"github.com/pion/transport/v3/replaydetector"

	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// DefaultReplayProtectionWindow is the sliding-window size RFC 6347
// §4.1.2.6 recommends.
const DefaultReplayProtectionWindow = 64

// replayWindows holds one sliding-bitmap anti-replay detector per
// epoch, grown lazily as epochs advance. Each epoch's window is
// independent: a ChangeCipherSpec resets neither accepts nor rejects
// sequence numbers already seen under a previous epoch.
type replayWindows struct {
	windowSize uint
	detectors  []replaydetector.ReplayDetector
}

func newReplayWindows(windowSize uint) *replayWindows {
	if windowSize == 0 {
		windowSize = DefaultReplayProtectionWindow
	}
	return &replayWindows{windowSize: windowSize}
}

// check validates seq against epoch's window. It returns a function
// that commits the acceptance (to be called only after the record has
// also passed MAC/AEAD authentication — RFC 6347 §4.1.2.6 forbids
// advancing the window on unauthenticated input) and whether the
// sequence number is currently acceptable.
func (r *replayWindows) check(epoch uint16, seq uint64) (markValid func() bool, ok bool) {
	for len(r.detectors) <= int(epoch) {
		r.detectors = append(r.detectors, replaydetector.New(r.windowSize, recordlayer.MaxSequenceNumber))
	}
	return r.detectors[epoch].Check(seq)
}
