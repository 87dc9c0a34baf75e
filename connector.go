// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package californium is a DTLS 1.2 (RFC 6347) connector over UDP: a
// single Connector fans a shared worker pool out across every peer's
// Connection, each processed serially by its own SerialExecutor so a
// slow credential lookup or a burst of retransmissions on one peer
// never blocks another.
package californium

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"sync"

	"github.com/pion/logging"

	"github.com/birotaio/californium/connstore"
	"github.com/birotaio/californium/handshaker"
	"github.com/birotaio/californium/internal/closer"
	"github.com/birotaio/californium/internal/metrics"
	"github.com/birotaio/californium/internal/workerpool"
	"github.com/birotaio/californium/pkg/protocol"
	"github.com/birotaio/californium/pkg/protocol/alert"
	"github.com/birotaio/californium/pkg/protocol/handshake"
	"github.com/birotaio/californium/pkg/protocol/recordlayer"
	"github.com/birotaio/californium/session"
)

const replayWindowSize = session.DefaultReplayProtectionWindow

// Connector owns the UDP socket, the bounded connection store, and the
// shared worker pool: it is the root package's "G. Connector" from
// spec.md §2, the only component that knows how to turn a Handshaker's
// or Session's output into bytes on the wire and back.
type Connector struct {
	cfg *Config
	log logging.LeveledLogger

	pool  *workerpool.Pool
	store *connstore.Store

	metrics *metrics.Connector
	closer  *closer.Closer

	recvCh chan receivedDatagram

	helloMu      sync.Mutex
	helloBuffers map[string]*handshake.FragmentBuffer

	cookieMu         sync.RWMutex
	cookieSecret     []byte
	prevCookieSecret []byte

	sendMu       sync.Mutex
	pendingSends map[string][]pendingSend
	connectFired map[string]bool

	rawDataHandler func(addr net.Addr, data []byte)
	alertHandler   func(addr net.Addr, al *alert.Alert)
	onSent         func(addr net.Addr, data []byte)
	onError        func(addr net.Addr, data []byte, err error)
	onConnect      func(addr net.Addr)

	wg sync.WaitGroup
}

type receivedDatagram struct {
	addr net.Addr
	data []byte
}

// pendingSend is application data queued behind a handshake that has
// not yet established, per spec.md §6's send(data, destination_context,
// callback): "queue data behind a SessionEstablished listener; on
// success, encrypt & flush queued data; on failure, report via the
// message's callback".
type pendingSend struct {
	data     []byte
	callback func(error)
}

// NewConnector validates cfg and builds a Connector, but does not yet
// start reading from the socket — call Start for that.
func NewConnector(cfg *Config) (*Connector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(cfg.CookieSecret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, &InternalError{Reason: "failed to generate cookie secret: " + err.Error()}
		}
		cfg.CookieSecret = secret
	}

	m := metrics.NewConnector()
	c := &Connector{
		cfg:          cfg,
		log:          cfg.LoggerFactory.NewLogger("californium"),
		pool:         workerpool.New(int64(cfg.MaxConcurrentTasks)),
		metrics:      m,
		closer:       closer.NewCloser(),
		recvCh:       make(chan receivedDatagram, 256),
		helloBuffers: map[string]*handshake.FragmentBuffer{},
		cookieSecret: cfg.CookieSecret,
		pendingSends: map[string][]pendingSend{},
		connectFired: map[string]bool{},
	}
	c.store = connstore.NewStore(cfg.MaxConnections, cfg.ConnectionStaleTimeout, cfg.Clock.NowNanos, m)
	return c, nil
}

// Metrics returns the Prometheus collector set this Connector reports
// to; register it with the caller's own prometheus.Registerer.
func (c *Connector) Metrics() *metrics.Connector { return c.metrics }

// Start begins the read loop, and arms the cookie-secret rotation and
// idle-connection sweep timers. Safe to call once; call Stop (or
// Destroy) before starting a new Connector over the same socket.
func (c *Connector) Start() {
	c.wg.Add(1)
	go c.readLoop()
	c.cfg.Timers.ScheduleAfter(c.cfg.CookieSecretLifetime, c.rotateCookieSecret)
	c.cfg.Timers.ScheduleAfter(c.cfg.ConnectionIdleTimeout, c.sweepIdleConnections)
}

// rotateCookieSecret replaces the live cookie secret with a fresh one,
// keeping the one it replaces as prevCookieSecret so a cookie stamped
// just before the rotation still validates (spec.md §9 design note
// (b)), then re-arms itself for the next rotation.
func (c *Connector) rotateCookieSecret() {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		c.log.Errorf("californium: failed to rotate cookie secret, keeping the current one: %v", err)
	} else {
		c.cookieMu.Lock()
		c.prevCookieSecret = c.cookieSecret
		c.cookieSecret = secret
		c.cookieMu.Unlock()
	}
	if !c.closer.IsClosed() {
		c.cfg.Timers.ScheduleAfter(c.cfg.CookieSecretLifetime, c.rotateCookieSecret)
	}
}

// cookieSecrets returns the secrets a ClientHello's cookie may validate
// against: the live one, and (once at least one rotation has happened)
// the one it replaced.
func (c *Connector) cookieSecrets() [][]byte {
	c.cookieMu.RLock()
	defer c.cookieMu.RUnlock()
	if len(c.prevCookieSecret) == 0 {
		return [][]byte{c.cookieSecret}
	}
	return [][]byte{c.cookieSecret, c.prevCookieSecret}
}

func (c *Connector) currentCookieSecret() []byte {
	c.cookieMu.RLock()
	defer c.cookieMu.RUnlock()
	return c.cookieSecret
}

// sweepIdleConnections reclaims Connections that are garbage per
// spec.md §3 (no established Session, no in-progress Handshaker) —
// e.g. a handshake abandoned mid-flight, or a store entry allocated by
// connectionFor for a stateless cookie exchange that never completed —
// without waiting for LRU pressure to evict them, then re-arms itself.
func (c *Connector) sweepIdleConnections() {
	if evicted := c.store.EvictIdle(); evicted > 0 {
		c.log.Debugf("californium: idle sweep reclaimed %d connection(s)", evicted)
	}
	if !c.closer.IsClosed() {
		c.cfg.Timers.ScheduleAfter(c.cfg.ConnectionIdleTimeout, c.sweepIdleConnections)
	}
}

// Stop signals shutdown and waits for the read loop to exit, but
// leaves the connection store intact (a subsequent Start could resume
// serving the same peers without forcing them to rehandshake, were the
// caller to build a fresh Connector around the same store — Destroy is
// what actually tears connections down).
func (c *Connector) Stop() error {
	c.closer.Close()
	err := c.cfg.Socket.Close()
	c.wg.Wait()
	return err
}

// Restart is Stop followed by clearing transient read-loop state; the
// caller is expected to supply a fresh, already-bound Config.Socket
// (closed sockets cannot be un-closed) and call Start again.
func (c *Connector) Restart(newSocket UDPSocket) {
	_ = c.Stop()
	c.cfg.Socket = newSocket
	c.closer = closer.NewCloser()
	c.recvCh = make(chan receivedDatagram, 256)
}

// Destroy stops the read loop and discards every Connection, failing
// any in-progress handshake in place.
func (c *Connector) Destroy() error {
	err := c.Stop()
	c.store.Clear()
	return err
}

// Dial drives a client-side handshake to addr to completion and
// returns the Session immediately after the first flight is sent;
// retransmission and completion are driven entirely by the injected
// TimerService and the read loop, so Dial itself does no polling or
// blocking beyond sending flight 1. Callers wanting to block until
// ESTABLISHED should poll Session or Handshaker state themselves (the
// tests in californium_test.go poll in real time with a deadline).
func (c *Connector) Dial(addr net.Addr) (*session.Session, error) {
	if c.closer.IsClosed() {
		return nil, ErrConnectorClosed
	}

	conn := connstore.NewConnection(addr, c.pool)
	sess := session.New(nil, true, replayWindowSize)
	conn.Session = sess

	hcfg := c.cfg.newHandshakerConfig(handshaker.RoleClient, c.log)
	hs := handshaker.NewClient(hcfg, sess, addr)
	hcfg.Timers = newRetransmitTimer(c.cfg.Timers, hs, func(flight []*recordlayer.RecordLayer, epoch uint16) {
		c.metrics.Retransmission()
		c.sendFlight(addr, sess, flight)
	})
	conn.Handshaker = hs

	if err := c.store.Put(conn); err != nil {
		return nil, err
	}

	c.metrics.HandshakeStarted()
	flight, err := hs.Start()
	if err != nil {
		c.metrics.HandshakeFailed("start")
		return nil, &HandshakeFailureError{Addr: addr.String(), Err: err}
	}
	c.sendFlight(addr, sess, flight)
	return sess, nil
}

// sendFlight encrypts and writes every record of a flight in order.
// Epoch 0 records are sent in the clear; EncryptOutbound handles both
// cases transparently via the Session's per-epoch cipher state.
func (c *Connector) sendFlight(addr net.Addr, sess *session.Session, flight []*recordlayer.RecordLayer) {
	for _, rec := range flight {
		raw, err := sess.EncryptOutbound(rec)
		if err != nil {
			c.log.Errorf("californium: failed to encrypt outbound record to %s: %v", addr, err)
			return
		}
		if _, err := c.cfg.Socket.WriteTo(raw, addr); err != nil {
			c.log.Errorf("californium: failed to write to %s: %v", addr, err)
			return
		}
	}
}

// SetRawDataReceiver registers handler as an alternative to polling
// Receive: every decrypted application-data payload delivered by an
// established session is handed to it in addition to being queued on
// the Receive channel. spec.md §6: set_raw_data_receiver(handler).
func (c *Connector) SetRawDataReceiver(handler func(addr net.Addr, data []byte)) {
	c.rawDataHandler = handler
}

// SetAlertHandler registers handler to observe every alert record a
// peer sends, warning or fatal alike. spec.md §6: set_alert_handler(handler).
func (c *Connector) SetAlertHandler(handler func(addr net.Addr, al *alert.Alert)) {
	c.alertHandler = handler
}

// OnSent registers the callback spec.md §6 fires once a payload passed
// to Send or SendWithCallback actually reaches the wire under an
// established session.
func (c *Connector) OnSent(handler func(addr net.Addr, data []byte)) { c.onSent = handler }

// OnError registers the callback spec.md §6 fires when a payload passed
// to Send or SendWithCallback could not be delivered.
func (c *Connector) OnError(handler func(addr net.Addr, data []byte, err error)) { c.onError = handler }

// OnConnect registers the callback spec.md §6 and E1 fire exactly once
// per peer address, the first time SendWithCallback triggers a fresh
// handshake to that address.
func (c *Connector) OnConnect(handler func(addr net.Addr)) { c.onConnect = handler }

// SendWithCallback is spec.md §6's send(data, destination_context,
// callback): against an address with an established session it
// encrypts and writes data immediately; otherwise it starts a
// handshake (firing OnConnect exactly once for that address) and
// queues data to be flushed once the handshake establishes. callback
// observes the eventual outcome either way, mirroring OnSent/OnError.
func (c *Connector) SendWithCallback(addr net.Addr, data []byte, callback func(error)) error {
	if c.closer.IsClosed() {
		c.reportSendOutcome(addr, data, ErrConnectorClosed, callback)
		return ErrConnectorClosed
	}

	if conn, ok := c.store.Get(addr); ok && conn.Established() {
		err := c.Send(addr, data)
		c.reportSendOutcome(addr, data, err, callback)
		return err
	}

	key := addr.String()
	c.sendMu.Lock()
	c.pendingSends[key] = append(c.pendingSends[key], pendingSend{data: data, callback: callback})
	fireConnect := !c.connectFired[key]
	c.connectFired[key] = true
	c.sendMu.Unlock()

	_, handshakeInFlight := c.store.Get(addr)
	if fireConnect {
		if h := c.onConnect; h != nil {
			h(addr)
		}
	}
	if handshakeInFlight {
		return nil
	}
	if _, err := c.Dial(addr); err != nil {
		c.sendMu.Lock()
		queued := c.pendingSends[key]
		delete(c.pendingSends, key)
		c.sendMu.Unlock()
		for _, p := range queued {
			c.reportSendOutcome(addr, p.data, err, p.callback)
		}
		return err
	}
	return nil
}

// reportSendOutcome fires OnSent/OnError and the per-send callback for
// one completed (successfully or not) send.
func (c *Connector) reportSendOutcome(addr net.Addr, data []byte, err error, callback func(error)) {
	if err != nil {
		if h := c.onError; h != nil {
			h(addr, data, err)
		}
	} else if h := c.onSent; h != nil {
		h(addr, data)
	}
	if callback != nil {
		callback(err)
	}
}

// flushPendingSends sends every payload SendWithCallback queued behind
// addr's handshake, now that it has established.
func (c *Connector) flushPendingSends(addr net.Addr) {
	key := addr.String()
	c.sendMu.Lock()
	queued := c.pendingSends[key]
	delete(c.pendingSends, key)
	c.sendMu.Unlock()
	for _, p := range queued {
		err := c.Send(addr, p.data)
		c.reportSendOutcome(addr, p.data, err, p.callback)
	}
}

// Send transmits application data to an already-established peer.
func (c *Connector) Send(addr net.Addr, data []byte) error {
	if c.closer.IsClosed() {
		return ErrConnectorClosed
	}
	conn, ok := c.store.Get(addr)
	if !ok || !conn.Established() {
		return ErrNotEstablished
	}
	app := protocol.ApplicationData{Data: data}
	rl := &recordlayer.RecordLayer{
		Header:  recordlayer.Header{Epoch: conn.Session.LocalEpoch()},
		Content: &app,
	}
	raw, err := conn.Session.EncryptOutbound(rl)
	if err != nil {
		return &IOError{Op: "encrypt", Err: err}
	}
	if _, err := c.cfg.Socket.WriteTo(raw, addr); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Receive blocks until application data arrives from an established
// peer, or the Connector is stopped.
func (c *Connector) Receive() (net.Addr, []byte, error) {
	select {
	case d, ok := <-c.recvCh:
		if !ok {
			return nil, nil, ErrConnectorClosed
		}
		return d.addr, d.data, nil
	case <-c.closer.Done():
		return nil, nil, ErrConnectorClosed
	}
}

const maxDatagramSize = 64 * 1024

func (c *Connector) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-c.closer.Done():
			close(c.recvCh)
			return
		default:
		}

		n, addr, err := c.cfg.Socket.ReadFrom(buf)
		if err != nil {
			if c.closer.IsClosed() {
				close(c.recvCh)
				return
			}
			c.log.Errorf("californium: read error: %v", err)
			continue
		}

		datagram := append([]byte{}, buf[:n]...)
		conn := c.connectionFor(addr)
		conn.Executor.Submit(context.Background(), func() {
			c.handleDatagram(conn, addr, datagram)
		})
	}
}

// connectionFor returns the existing Connection for addr, or allocates
// a fresh one (no Session, no Handshaker yet — a ClientHello arriving
// on it is what gives it either). If the store is full and addr is new,
// the returned Connection is never retained: it still lets the
// stateless cookie-exchange path answer this one datagram, per RFC
// 6347 §4.2.1, but a cookie-valid ClientHello arriving on it is
// silently dropped (acceptNewClientHello allocates no Handshaker and
// sends no reply).
func (c *Connector) connectionFor(addr net.Addr) *connstore.Connection {
	if conn, ok := c.store.Get(addr); ok {
		return conn
	}
	conn := connstore.NewConnection(addr, c.pool)
	if err := c.store.Put(conn); err != nil {
		c.log.Warnf("californium: connection store full, %s may not be able to complete a handshake: %v", addr, err)
	}
	return conn
}

// handleDatagram runs on conn's serial executor: every record in the
// datagram is processed in order, and any record whose Session
// decryption or Handshaker dispatch fails aborts the rest of the
// datagram (a peer does not interleave unrelated epochs within one
// send).
func (c *Connector) handleDatagram(conn *connstore.Connection, addr net.Addr, datagram []byte) {
	records, err := recordlayer.UnpackDatagram(datagram)
	if err != nil {
		c.log.Debugf("californium: dropping malformed datagram from %s: %v", addr, err)
		return
	}

	for _, raw := range records {
		if !c.handleRecord(conn, addr, raw) {
			return
		}
	}
}

// handleRecord processes exactly one record and reports whether the
// caller should continue with the rest of the datagram.
func (c *Connector) handleRecord(conn *connstore.Connection, addr net.Addr, raw []byte) bool {
	var hdr recordlayer.Header
	if err := hdr.Unmarshal(raw); err != nil {
		c.log.Debugf("californium: malformed record header from %s: %v", addr, err)
		return false
	}

	restart := false
	if hdr.ContentType == protocol.ContentTypeHandshake && hdr.Epoch == 0 && conn.Handshaker != nil && conn.Handshaker.Established() {
		var fh handshake.Header
		restart = fh.Unmarshal(raw[recordlayer.FixedHeaderSize:]) == nil && fh.Type == handshake.TypeClientHello
	}
	if hdr.ContentType == protocol.ContentTypeHandshake && hdr.Epoch == 0 && (conn.Handshaker == nil || restart) {
		// Either genuinely new (conn.Session is nil), or the peer has
		// restarted with a fresh ClientHello while a prior session is
		// still established (RFC 6347 §4.2.8): either way, a fresh
		// handshake attempt begins, without disturbing conn.Session
		// until it actually establishes.
		c.acceptNewClientHello(conn, addr, hdr, raw)
		return true
	}

	if conn.Session == nil && conn.HandshakeSession == nil {
		c.log.Debugf("californium: no session for %s yet, dropping record", addr)
		return false
	}

	// A record for an in-progress parallel handshake (Handshake or
	// ChangeCipherSpec content) decrypts against the new handshake's own
	// Session; ApplicationData keeps decrypting against the still-valid
	// established Session until that handshake actually completes.
	decryptSess := conn.Session
	if conn.HandshakeSession != nil && hdr.ContentType != protocol.ContentTypeApplicationData {
		decryptSess = conn.HandshakeSession
	}
	if decryptSess == nil {
		c.log.Debugf("californium: no applicable session for %s yet, dropping record", addr)
		return false
	}

	// DecryptInbound's epoch-0 path returns the whole input unchanged
	// (no cipher applies yet), so body must be sliced past the record
	// header in that case; every encrypted epoch instead yields just
	// the payload, already stripped of header and any AEAD overhead.
	decrypted, err := decryptSess.DecryptInbound(hdr.Epoch, hdr.SequenceNumber, raw)
	if err != nil {
		if errors.Is(err, session.ErrReplayDropped) {
			c.metrics.ReplayDrop()
			return true
		}
		if errors.Is(err, session.ErrNoCipherSuite) && conn.Handshaker != nil {
			// Record layer invariant (spec.md §3): a record at exactly
			// read_epoch+1 is buffered, never dropped, until CCS advances
			// the epoch — the peer's Finished sent at the new epoch can
			// overtake the CCS record on an unordered UDP path. Anything
			// further ahead is not recoverable by waiting and is dropped
			// like any other undecryptable record (spec.md §4.D).
			if hdr.Epoch == decryptSess.RemoteEpoch()+1 {
				conn.Handshaker.DeferRecord(raw)
				return true
			}
		}
		c.log.Debugf("californium: failed to decrypt record from %s: %v", addr, err)
		return false
	}
	body := decrypted
	if hdr.Epoch == 0 {
		body = decrypted[recordlayer.FixedHeaderSize:]
	}

	switch hdr.ContentType {
	case protocol.ContentTypeApplicationData:
		var app protocol.ApplicationData
		if err := app.Unmarshal(body); err != nil {
			return false
		}
		if h := c.rawDataHandler; h != nil {
			h(addr, app.Data)
		}
		select {
		case c.recvCh <- receivedDatagram{addr: addr, data: app.Data}:
		case <-c.closer.Done():
		}
		return true

	case protocol.ContentTypeAlert:
		var al alert.Alert
		if err := al.Unmarshal(body); err != nil {
			return false
		}
		if h := c.alertHandler; h != nil {
			h(addr, &al)
		}
		if al.IsFatalOrClose() {
			c.log.Warnf("californium: %s sent %v, tearing down connection", addr, &al)
			c.store.Delete(addr)
		}
		return false

	case protocol.ContentTypeChangeCipherSpec:
		if conn.Handshaker == nil {
			return false
		}
		if err := conn.Handshaker.HandleChangeCipherSpec(); err != nil {
			c.log.Debugf("californium: %s CCS rejected: %v", addr, err)
			return false
		}
		c.replayDeferred(conn, addr)
		return true

	case protocol.ContentTypeHandshake:
		return c.dispatchToHandshaker(conn, addr, hdr.Epoch, body)

	default:
		return false
	}
}

// acceptNewClientHello handles an epoch-0 handshake-content record
// arriving on a Connection with no Handshaker currently in progress: it
// is either a bare ClientHello (stateless cookie exchange kicks off), a
// cookie-carrying ClientHello (a Handshaker is finally allocated), or —
// when conn.Session is already established — a restart (RFC 6347
// §4.2.8), which races a new Handshaker/Session pair against the
// existing one rather than discarding it up front. Reassembly uses a
// short-lived, per-address FragmentBuffer since no Handshaker exists
// yet to own one.
func (c *Connector) acceptNewClientHello(conn *connstore.Connection, addr net.Addr, hdr recordlayer.Header, raw []byte) {
	fragment := raw[recordlayer.FixedHeaderSize:]

	key := addr.String()
	c.helloMu.Lock()
	fb, ok := c.helloBuffers[key]
	if !ok {
		fb = handshake.NewFragmentBuffer()
		c.helloBuffers[key] = fb
	}
	hs, complete, err := fb.Push(fragment)
	c.helloMu.Unlock()
	if err != nil {
		c.log.Debugf("californium: malformed ClientHello from %s: %v", addr, err)
		return
	}
	if !complete {
		return
	}
	clientHello, ok := hs.Message.(*handshake.MessageClientHello)
	if !ok {
		c.log.Debugf("californium: first message from %s was not a ClientHello", addr)
		return
	}

	addrBytes := []byte(addr.String())
	if !handshaker.ValidateClientHello(c.cookieSecrets(), addrBytes, clientHello) {
		hvr, err := handshaker.GenerateHelloVerifyRequest(c.currentCookieSecret(), addrBytes, clientHello)
		if err != nil {
			c.log.Errorf("californium: failed to build HelloVerifyRequest for %s: %v", addr, err)
			return
		}
		c.sendHelloVerifyRequest(addr, hvr)
		return
	}

	c.helloMu.Lock()
	delete(c.helloBuffers, key)
	c.helloMu.Unlock()

	if stored, ok := c.store.Get(addr); !ok || stored != conn {
		c.log.Debugf("californium: connection store full, dropping handshake from %s", addr)
		return
	}

	sess := session.New(nil, false, replayWindowSize)
	if conn.Session == nil {
		conn.Session = sess
	} else {
		conn.HandshakeSession = sess
	}
	hcfg := c.cfg.newHandshakerConfig(handshaker.RoleServer, c.log)
	hsState := handshaker.NewServer(hcfg, sess, addr)
	hcfg.Timers = newRetransmitTimer(c.cfg.Timers, hsState, func(flight []*recordlayer.RecordLayer, epoch uint16) {
		c.metrics.Retransmission()
		c.sendFlight(addr, sess, flight)
	})
	conn.Handshaker = hsState

	c.metrics.HandshakeStarted()
	flight, al, derr := hsState.HandleHandshakeFragment(hdr.Epoch, fragment)
	if al != nil {
		c.sendAlert(conn, addr, al)
	}
	if derr != nil {
		c.metrics.HandshakeFailed("client_hello")
		c.log.Warnf("californium: ClientHello from %s rejected: %v", addr, derr)
		return
	}
	c.sendFlight(addr, sess, flight)
	c.promoteIfEstablished(conn, false)
}

// promoteIfEstablished moves a completed parallel handshake's Session
// into Session once its Handshaker reports ESTABLISHED, clearing
// HandshakeSession so Send/decrypt of ApplicationData switch over to
// the new session from this point on. wasEstablished is the
// Handshaker's Established() value sampled before this round of
// processing, so the metric fires exactly once per handshake.
func (c *Connector) promoteIfEstablished(conn *connstore.Connection, wasEstablished bool) {
	if conn.Handshaker == nil || !conn.Handshaker.Established() {
		return
	}
	if conn.HandshakeSession != nil {
		conn.Session = conn.HandshakeSession
		conn.HandshakeSession = nil
	}
	if !wasEstablished {
		c.metrics.HandshakeEstablished()
		c.flushPendingSends(conn.Addr)
	}
}

// replayDeferred drains whatever records the Handshaker buffered at
// DecryptInbound's request (spec.md §4.D) once their epoch now has an
// installed cipher suite, feeding each back through handleRecord in the
// order it originally arrived. The epoch can advance either from
// processing the peer's ChangeCipherSpec or, in this implementation,
// from locally finishing key derivation (e.g. the server right after
// ClientKeyExchange) — replayDeferred is called from both places so
// neither ordering misses the drain.
func (c *Connector) replayDeferred(conn *connstore.Connection, addr net.Addr) {
	if conn.Handshaker == nil {
		return
	}
	sess := conn.Session
	if conn.HandshakeSession != nil {
		sess = conn.HandshakeSession
	}
	if sess == nil {
		return
	}
	for _, raw := range conn.Handshaker.TakeDeferred(sess.RemoteEpoch()) {
		c.handleRecord(conn, addr, raw)
	}
}

func (c *Connector) dispatchToHandshaker(conn *connstore.Connection, addr net.Addr, epoch uint16, fragment []byte) bool {
	if conn.Handshaker == nil {
		return false
	}

	// RFC 6347 §4.2.8: a ClientHello arriving on an already-established
	// connection is renegotiation, which this connector refuses rather
	// than silently drops, so the peer's session is left exactly as it
	// was.
	if conn.Handshaker.Established() {
		var fragHdr handshake.Header
		if err := fragHdr.Unmarshal(fragment); err == nil && fragHdr.Type == handshake.TypeClientHello {
			c.sendAlert(conn, addr, handshaker.RefuseRenegotiation())
			return true
		}
	}

	activeSession := conn.Session
	if conn.HandshakeSession != nil {
		activeSession = conn.HandshakeSession
	}
	wasEstablished := conn.Handshaker.Established()

	flight, al, err := conn.Handshaker.HandleHandshakeFragment(epoch, fragment)
	if al != nil {
		c.sendAlert(conn, addr, al)
	}
	if err != nil {
		c.metrics.HandshakeFailed("handshake")
		c.log.Warnf("californium: handshake with %s failed: %v", addr, err)
		return false
	}
	if len(flight) > 0 {
		c.sendFlight(addr, activeSession, flight)
	}
	c.promoteIfEstablished(conn, wasEstablished)
	c.replayDeferred(conn, addr)
	return true
}

// sendAlert sends al to addr, encrypted under conn's current session
// epoch when one exists (e.g. a renegotiation refusal on an
// established connection), or in the clear at epoch 0 before any
// Session has been created (e.g. a cookie mismatch during the initial
// exchange).
func (c *Connector) sendAlert(conn *connstore.Connection, addr net.Addr, al *alert.Alert) {
	if conn != nil && conn.Session != nil {
		rl := &recordlayer.RecordLayer{
			Header:  recordlayer.Header{Epoch: conn.Session.LocalEpoch()},
			Content: al,
		}
		raw, err := conn.Session.EncryptOutbound(rl)
		if err != nil {
			c.log.Errorf("californium: failed to encrypt alert to %s: %v", addr, err)
			return
		}
		_, _ = c.cfg.Socket.WriteTo(raw, addr)
		return
	}

	rl := &recordlayer.RecordLayer{Content: al}
	raw, err := rl.Marshal()
	if err != nil {
		return
	}
	_, _ = c.cfg.Socket.WriteTo(raw, addr)
}

// sendHelloVerifyRequest wraps hvr as message_seq 0 of a fresh flight —
// it is always the first thing this server ever says to addr — and
// sends it unfragmented (a HelloVerifyRequest is a handful of bytes,
// always well under any realistic MTU).
func (c *Connector) sendHelloVerifyRequest(addr net.Addr, hvr *handshake.MessageHelloVerifyRequest) {
	hsMsg := &handshake.Handshake{Message: hvr}
	rl := &recordlayer.RecordLayer{Content: hsMsg}
	raw, err := rl.Marshal()
	if err != nil {
		c.log.Errorf("californium: failed to marshal HelloVerifyRequest for %s: %v", addr, err)
		return
	}
	_, _ = c.cfg.Socket.WriteTo(raw, addr)
}
