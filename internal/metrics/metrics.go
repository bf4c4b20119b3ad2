// Package metrics exposes Prometheus instrumentation for the bridge.
//
// Metrics are registered on a caller-supplied registry rather than the
// global default, so several bridges (or tests) can coexist in one process.
// A nil *Metrics is valid and records nothing.
//
// Available metrics:
//
//   - heartbridge_connect_attempts_total{result}: bootstrap+dial attempts
//   - heartbridge_connected: 1 while the realtime channel is connected
//   - heartbridge_liveness_sent_total: liveness messages written
//   - heartbridge_samples_total{result}: heart-rate values accepted or discarded
//   - heartbridge_heart_rate_bpm: last accepted heart rate
//   - heartbridge_datagrams_total{address_kind,result}: OSC sends and drops
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	connectAttempts *prometheus.CounterVec
	connected       prometheus.Gauge
	livenessSent    prometheus.Counter
	samples         *prometheus.CounterVec
	heartRate       prometheus.Gauge
	datagrams       *prometheus.CounterVec
}

// New registers the bridge collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartbridge_connect_attempts_total",
				Help: "Total number of bootstrap and dial attempts",
			},
			[]string{"result"}, // "success", "bootstrap_error", "channel_error", "discarded"
		),
		connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heartbridge_connected",
				Help: "Whether the realtime channel is connected (1) or not (0)",
			},
		),
		livenessSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heartbridge_liveness_sent_total",
				Help: "Total number of liveness messages sent upstream",
			},
		),
		samples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartbridge_samples_total",
				Help: "Total number of heart-rate values received",
			},
			[]string{"result"}, // "accepted", "discarded"
		),
		heartRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heartbridge_heart_rate_bpm",
				Help: "Last accepted heart rate in beats per minute",
			},
		),
		datagrams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heartbridge_datagrams_total",
				Help: "Total number of OSC datagrams by kind and outcome",
			},
			[]string{"address_kind", "result"}, // kind: "chatbox", "parameter"; result: "sent", "dropped", "error"
		),
	}
}

// ConnectAttempt records the outcome of one connection attempt.
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// SetConnected records the channel state.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// LivenessSent counts one liveness message.
func (m *Metrics) LivenessSent() {
	if m == nil {
		return
	}
	m.livenessSent.Inc()
}

// SampleAccepted records an accepted heart rate.
func (m *Metrics) SampleAccepted(bpm int) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("accepted").Inc()
	m.heartRate.Set(float64(bpm))
}

// SampleDiscarded counts a noise sample.
func (m *Metrics) SampleDiscarded() {
	if m == nil {
		return
	}
	m.samples.WithLabelValues("discarded").Inc()
}

// Datagram records an OSC send outcome.
func (m *Metrics) Datagram(kind, result string) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(kind, result).Inc()
}
