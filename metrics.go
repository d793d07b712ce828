// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bus

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts bus traffic. A nil *Metrics records nothing, so buses built
// without WithMetrics pay no cost.
type Metrics struct {
	Sent        *prometheus.CounterVec
	Received    *prometheus.CounterVec
	Unmatched   *prometheus.CounterVec
	Unhandled   *prometheus.CounterVec
	Timeouts    *prometheus.CounterVec
	Panics      *prometheus.CounterVec
	Pending     prometheus.Gauge
	Connections prometheus.Gauge
}

// NewMetrics creates the bus collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus",
			Name:      "messages_sent_total",
			Help:      "Envelopes handed to a transport, by message type.",
		}, []string{"type"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus",
			Name:      "messages_received_total",
			Help:      "Envelopes decoded from a transport, by message type.",
		}, []string{"type"}),
		Unmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus",
			Name:      "unmatched_responses_total",
			Help:      "Responses that arrived with no pending request.",
		}, []string{"channel"}),
		Unhandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus",
			Name:      "unhandled_total",
			Help:      "Requests and events with no registered handler.",
		}, []string{"channel", "kind"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus",
			Name:      "response_timeouts_total",
			Help:      "Requests answered by the response deadline.",
		}, []string{"channel"}),
		Panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bus",
			Name:      "handler_panics_total",
			Help:      "Request and event handlers that panicked.",
		}, []string{"channel", "kind"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bus",
			Name:      "pending_requests",
			Help:      "Outgoing requests waiting for a response.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bus",
			Name:      "connections",
			Help:      "Connections tracked by servers.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.Sent, m.Received, m.Unmatched, m.Unhandled, m.Timeouts, m.Panics, m.Pending, m.Connections,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sent(t MessageType) {
	if m != nil {
		m.Sent.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) received(t MessageType) {
	if m != nil {
		m.Received.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) unmatched(ch Channel) {
	if m != nil {
		m.Unmatched.WithLabelValues(ch.String()).Inc()
	}
}

func (m *Metrics) panicked(ch Channel, k Kind) {
	if m != nil {
		m.Panics.WithLabelValues(ch.String(), k.String()).Inc()
	}
}

func (m *Metrics) unhandled(ch Channel, k Kind) {
	if m != nil {
		m.Unhandled.WithLabelValues(ch.String(), k.String()).Inc()
	}
}

func (m *Metrics) timeout(ch Channel) {
	if m != nil {
		m.Timeouts.WithLabelValues(ch.String()).Inc()
	}
}

func (m *Metrics) pendingAdd(n float64) {
	if m != nil {
		m.Pending.Add(n)
	}
}

func (m *Metrics) connectionsAdd(n float64) {
	if m != nil {
		m.Connections.Add(n)
	}
}
