// Copyright 2026 The Solstice RTC Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides the engine's optional Prometheus
// instrumentation. All construction is nil-safe: a nil *Metrics behaves
// as a no-op sink so callers that do not care about observability never
// need a branch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. Construct with New
// and register against a prometheus.Registerer, or pass a nil *Metrics
// anywhere the engine accepts one to disable instrumentation entirely.
type Metrics struct {
	ReconnectAttempts *prometheus.CounterVec
	ReconnectOutcomes *prometheus.CounterVec
	ICEConnectSeconds *prometheus.HistogramVec
	DataChannelBytes  *prometheus.CounterVec
}

// New creates a Metrics instance and registers its collectors with reg.
// If reg is nil, the collectors are created but never registered —
// still safe to use, just invisible to any scrape endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtcengine_reconnect_attempts_total",
			Help: "Reconnect attempts made by the engine, labeled by mode (soft/full).",
		}, []string{"mode"}),
		ReconnectOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtcengine_reconnect_outcomes_total",
			Help: "Terminal reconnect outcomes, labeled by outcome (soft_ok/full_ok/exhausted).",
		}, []string{"outcome"}),
		ICEConnectSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtcengine_ice_connect_seconds",
			Help:    "Time from Join to the primary transport's first ICE connect, labeled by transport role.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport"}),
		DataChannelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtcengine_datachannel_bytes_total",
			Help: "Bytes sent or received over data channels, labeled by channel label and direction.",
		}, []string{"label", "direction"}),
	}

	if reg != nil {
		reg.MustRegister(m.ReconnectAttempts, m.ReconnectOutcomes, m.ICEConnectSeconds, m.DataChannelBytes)
	}
	return m
}

// ReconnectAttempt records one reconnect attempt. Nil-safe.
func (m *Metrics) ReconnectAttempt(mode string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(mode).Inc()
}

// ReconnectOutcome records a terminal reconnect result. Nil-safe.
func (m *Metrics) ReconnectOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReconnectOutcomes.WithLabelValues(outcome).Inc()
}

// ICEConnectObserve records the seconds elapsed until ICE connected for
// the given transport role. Nil-safe.
func (m *Metrics) ICEConnectObserve(transport string, seconds float64) {
	if m == nil {
		return
	}
	m.ICEConnectSeconds.WithLabelValues(transport).Observe(seconds)
}

// DataChannelBytesObserve records bytes moved over a data channel.
// direction is "tx" or "rx". Nil-safe.
func (m *Metrics) DataChannelBytesObserve(label, direction string, n int) {
	if m == nil {
		return
	}
	m.DataChannelBytes.WithLabelValues(label, direction).Add(float64(n))
}
