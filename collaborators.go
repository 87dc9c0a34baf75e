// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package californium

import (
	"net"
	"time"

	"github.com/birotaio/californium/handshaker"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
)

// CredentialStore, MonotonicClock, TimerHandle, TimerService and
// SessionCache are the same external collaborators the handshaker
// package declares (it cannot import this package without a cycle,
// since this package imports handshaker); aliasing them here gives
// consumers of the public API one name to implement against.
type (
	CredentialStore = handshaker.CredentialStore
	MonotonicClock  = handshaker.MonotonicClock
	TimerHandle     = handshaker.TimerHandle
	TimerService    = handshaker.TimerService
	SessionCache    = handshaker.SessionCache
)

// UDPSocket is the transport collaborator a Connector reads datagrams
// from and writes them to. A reference implementation over
// net.PacketConn is provided in udpsocket.go; tests use an in-memory
// pair instead so retransmit and reordering scenarios are
// deterministic.
type UDPSocket interface {
	ReadFrom(buf []byte) (n int, addr net.Addr, err error)
	WriteTo(buf []byte, addr net.Addr) (n int, err error)
	Close() error
}

// systemClock is the default MonotonicClock, backed by time.Now's
// monotonic reading.
type systemClock struct{ start time.Time }

func newSystemClock() *systemClock { return &systemClock{start: time.Now()} }

func (c *systemClock) NowNanos() int64 { return time.Since(c.start).Nanoseconds() }

// afterFuncTimer is the default TimerService, backed by time.AfterFunc.
type afterFuncTimer struct{}

func newAfterFuncTimer() *afterFuncTimer { return &afterFuncTimer{} }

func (afterFuncTimer) ScheduleAfter(d time.Duration, task func()) TimerHandle {
	return time.AfterFunc(d, task)
}

func (afterFuncTimer) Cancel(handle TimerHandle) {
	if t, ok := handle.(*time.Timer); ok {
		t.Stop()
	}
}

// retransmitTimer wraps a base TimerService so that, once the wrapped
// task (handshaker bookkeeping only; see handshaker.onRetransmitTimeout)
// has run, the Handshaker's last flight is actually put back on the
// wire if the handshake is still in progress. The handshaker itself
// never touches the socket, so this is the seam that turns "a
// retransmission is due" into bytes going out.
type retransmitTimer struct {
	base TimerService
	hs   *handshaker.Handshaker
	send func(flight []*recordlayer.RecordLayer, epoch uint16)
}

func newRetransmitTimer(base TimerService, hs *handshaker.Handshaker, send func([]*recordlayer.RecordLayer, uint16)) *retransmitTimer {
	return &retransmitTimer{base: base, hs: hs, send: send}
}

// ScheduleAfter wraps task so that, after the handshaker's own
// bookkeeping runs, the still-in-progress handshake's last flight (if
// any) is resent over the wire.
func (t *retransmitTimer) ScheduleAfter(d time.Duration, task func()) TimerHandle {
	return t.base.ScheduleAfter(d, func() {
		task()
		if t.hs.Established() || t.hs.State() == handshaker.StateFailed {
			return
		}
		if flight, epoch := t.hs.PendingRetransmit(); len(flight) > 0 {
			t.send(flight, epoch)
		}
	})
}

func (t *retransmitTimer) Cancel(handle TimerHandle) { t.base.Cancel(handle) }
