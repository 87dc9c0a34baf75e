// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package connstore

import (
	"net"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/birotaio/californium/internal/metrics"
)

// Store is a bounded, address-keyed table of Connections (spec.md
// §4.F): capacity is fixed at construction, and Put on a full store
// only succeeds by evicting the least-recently-used entry, and only if
// that entry has been idle longer than staleThreshold. A full store
// with no stale entry fails the Put outright — the caller aborts the
// handshake silently, per RFC 6347 §4.2.8.
type Store struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Connection]
	capacity int

	staleThreshold time.Duration
	now            func() int64

	metrics *metrics.Connector
}

// NewStore builds a Store holding at most capacity Connections. now
// supplies the monotonic clock used for staleness comparisons (wire
// MonotonicClock.NowNanos here in production; tests can inject a fake).
// m may be nil to skip metrics reporting.
func NewStore(capacity int, staleThreshold time.Duration, now func() int64, m *metrics.Connector) *Store {
	s := &Store{
		capacity:       capacity,
		staleThreshold: staleThreshold,
		now:            now,
		metrics:        m,
	}
	// onEvict only fires for simplelru's own internal bookkeeping
	// (Remove/Purge); our staleness-gated path in Put calls Remove
	// explicitly before Add, so this also covers that case.
	lru, _ := simplelru.NewLRU[string, *Connection](maxInt(capacity, 1), func(string, *Connection) {
		if s.metrics != nil {
			s.metrics.StoreEviction()
		}
	})
	s.lru = lru
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func addrKey(addr net.Addr) string { return addr.String() }

// Get returns the Connection for addr, touching its last-activity
// timestamp and bumping it to most-recently-used.
func (s *Store) Get(addr net.Addr) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.lru.Get(addrKey(addr))
	if ok {
		c.touch(s.now())
	}
	return c, ok
}

// Put inserts conn under its own address. If the store is already at
// capacity and conn's address is new, the least-recently-used entry is
// evicted only if it has been idle at least staleThreshold; otherwise
// Put returns ErrStoreFull and conn is not inserted.
func (s *Store) Put(conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addrKey(conn.Addr)
	conn.touch(s.now())

	if s.lru.Contains(key) || s.lru.Len() < s.capacity {
		s.lru.Add(key, conn)
		s.reportSize()
		return nil
	}

	oldestKey, oldest, ok := s.lru.GetOldest()
	if !ok || s.now()-oldest.lastActivity() < int64(s.staleThreshold) {
		return ErrStoreFull
	}
	s.lru.Remove(oldestKey)
	s.lru.Add(key, conn)
	s.reportSize()
	return nil
}

// Delete removes addr's Connection, if any (CLOSE_NOTIFY, fatal alert,
// or explicit teardown).
func (s *Store) Delete(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(addrKey(addr))
	s.reportSize()
}

// RemainingCapacity reports how many more Connections can be inserted
// before Put starts requiring an eviction.
func (s *Store) RemainingCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.lru.Len()
}

// Len reports the current number of stored Connections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Clear empties the store (test teardown, connector Destroy).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
	s.reportSize()
}

// reportSize pushes the current size to metrics; caller must hold mu.
func (s *Store) reportSize() {
	if s.metrics != nil {
		s.metrics.SetStoreSize(s.lru.Len())
		s.metrics.SetActiveConnections(s.lru.Len())
	}
}

// EvictIdle sweeps every stored Connection and removes the ones that
// are Idle (spec.md §3: "no established session and no ongoing
// handshake is garbage"), regardless of staleness. A connector calls
// this periodically to reclaim slots a failed or abandoned handshake
// left behind without waiting for LRU pressure to force it out.
func (s *Store) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var garbage []string
	for _, key := range s.lru.Keys() {
		if c, ok := s.lru.Peek(key); ok && c.Idle() {
			garbage = append(garbage, key)
		}
	}
	for _, key := range garbage {
		s.lru.Remove(key)
	}
	s.reportSize()
	return len(garbage)
}
