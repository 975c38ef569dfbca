package twitchirc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/gnasty-triggers/internal/core"
)

// Metrics tracks ingest counters for the IRC source. A nil *Metrics is valid.
type Metrics struct {
	lines   prometheus.Counter
	events  *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "twitchirc",
			Name:      "lines_total",
			Help:      "IRC lines received",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "twitchirc",
			Name:      "events_total",
			Help:      "Events classified from IRC lines",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "twitchirc",
			Name:      "dropped_total",
			Help:      "IRC lines that produced no event",
		}, []string{"reason"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{m.lines, m.events, m.dropped}
}

func (m *Metrics) incLine() {
	if m == nil {
		return
	}
	m.lines.Inc()
}

func (m *Metrics) incEvent(kind core.Kind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
