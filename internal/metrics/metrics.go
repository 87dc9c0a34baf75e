// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package metrics exposes the connector's Prometheus collectors. It
// never starts an HTTP server itself — the connector is a library, and
// scraping is an operator concern out of scope for this module — but
// registering the collector with the caller's own prometheus.Registerer
// is one call away.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "californium"

// Connector is the full set of connector-level collectors: handshake
// lifecycle counters, live connection gauge, retransmission and replay
// counters, and connection-store eviction counters.
type Connector struct {
	handshakesStarted     prometheus.Counter
	handshakesEstablished prometheus.Counter
	handshakesFailed      *prometheus.CounterVec
	activeConnections     prometheus.Gauge
	retransmissions       prometheus.Counter
	replayDrops           prometheus.Counter
	storeEvictions        prometheus.Counter
	storeSize             prometheus.Gauge
}

// NewConnector builds an unregistered Connector collector set.
func NewConnector() *Connector {
	return &Connector{
		handshakesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_started_total",
			Help:      "Total number of handshakes begun, client or server side.",
		}),
		handshakesEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_established_total",
			Help:      "Total number of handshakes that reached the ESTABLISHED state.",
		}),
		handshakesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_failed_total",
			Help:      "Total number of handshakes that failed, labeled by cause.",
		}, []string{"reason"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of Connections currently held in the connection store.",
		}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flight_retransmissions_total",
			Help:      "Total number of handshake flight retransmissions sent.",
		}),
		replayDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_drops_total",
			Help:      "Total number of inbound records discarded by the anti-replay window.",
		}),
		storeEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connstore_evictions_total",
			Help:      "Total number of connections evicted from the connection store.",
		}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connstore_size",
			Help:      "Current number of entries in the connection store.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Connector) Describe(descs chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, descs)
}

// Collect implements prometheus.Collector.
func (c *Connector) Collect(ch chan<- prometheus.Metric) {
	c.handshakesStarted.Collect(ch)
	c.handshakesEstablished.Collect(ch)
	c.handshakesFailed.Collect(ch)
	c.activeConnections.Collect(ch)
	c.retransmissions.Collect(ch)
	c.replayDrops.Collect(ch)
	c.storeEvictions.Collect(ch)
	c.storeSize.Collect(ch)
}

// HandshakeStarted increments the started counter.
func (c *Connector) HandshakeStarted() { c.handshakesStarted.Inc() }

// HandshakeEstablished increments the established counter.
func (c *Connector) HandshakeEstablished() { c.handshakesEstablished.Inc() }

// HandshakeFailed increments the failed counter for reason.
func (c *Connector) HandshakeFailed(reason string) { c.handshakesFailed.WithLabelValues(reason).Inc() }

// SetActiveConnections sets the live connection gauge.
func (c *Connector) SetActiveConnections(n int) { c.activeConnections.Set(float64(n)) }

// Retransmission increments the flight-retransmission counter.
func (c *Connector) Retransmission() { c.retransmissions.Inc() }

// ReplayDrop increments the replay-drop counter.
func (c *Connector) ReplayDrop() { c.replayDrops.Inc() }

// StoreEviction increments the connstore eviction counter.
func (c *Connector) StoreEviction() { c.storeEvictions.Inc() }

// SetStoreSize sets the connstore size gauge.
func (c *Connector) SetStoreSize(n int) { c.storeSize.Set(float64(n)) }
