// Package metrics exposes client counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every Record call is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	messagesIn   *prometheus.CounterVec
	messagesOut  *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	voiceResults *prometheus.CounterVec
	voiceStatus  *prometheus.GaugeVec
	links        prometheus.Gauge
	setupTime    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomvoice_messages_received_total",
			Help: "Inbound protocol messages by action.",
		}, []string{"action"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomvoice_messages_sent_total",
			Help: "Outbound protocol messages by action.",
		}, []string{"action"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomvoice_messages_dropped_total",
			Help: "Messages dropped by reason.",
		}, []string{"reason"}),
		voiceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomvoice_voice_sessions_total",
			Help: "Voice sessions by how they finished.",
		}, []string{"result"}),
		voiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomvoice_voice_status",
			Help: "1 for the current voice session status.",
		}, []string{"status"}),
		links: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomvoice_peer_links",
			Help: "Open peer links.",
		}),
		setupTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomvoice_voice_setup_seconds",
			Help:    "Time from starting or joining voice to the first connected link.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		}),
	}
	m.reg.MustRegister(m.messagesIn, m.messagesOut, m.dropped, m.voiceResults, m.voiceStatus, m.links, m.setupTime)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordReceived(action string) {
	if m == nil {
		return
	}
	m.messagesIn.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordSent(action string) {
	if m == nil {
		return
	}
	m.messagesOut.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordVoiceResult(result string) {
	if m == nil {
		return
	}
	m.voiceResults.WithLabelValues(result).Inc()
}

// SetVoiceStatus flips the status gauge so exactly one status reads 1.
func (m *Metrics) SetVoiceStatus(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.voiceStatus.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SetLinks(n int) {
	if m == nil {
		return
	}
	m.links.Set(float64(n))
}

func (m *Metrics) ObserveSetup(seconds float64) {
	if m == nil {
		return
	}
	m.setupTime.Observe(seconds)
}
