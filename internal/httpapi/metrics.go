package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsSubsystem = "api"

// Metrics owns the process registry. Other packages add their collectors
// through Register so a single /metrics endpoint serves everything.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	responseBytes *prometheus.CounterVec
	rateLimited   prometheus.Counter
	submissions   *prometheus.CounterVec

	streamClients *prometheus.GaugeVec
	streamSent    *prometheus.CounterVec
	streamDropped *prometheus.CounterVec
	storeErrors   prometheus.Counter
}

func NewMetrics() *Metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty", Subsystem: metricsSubsystem, Name: name, Help: help,
		}, labels)
	}

	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		requests:      counter("requests_total", "HTTP requests by route, method and status.", "route", "method", "status"),
		responseBytes: counter("response_bytes_total", "Bytes written to HTTP responses by route.", "route"),
		submissions:   counter("trigger_submissions_total", "Events submitted through POST /api/trigger.", "mode"),
		streamSent:    counter("stream_runs_sent_total", "Run records delivered to live listeners.", "transport"),
		streamDropped: counter("stream_runs_dropped_total", "Run records dropped because a listener fell behind.", "transport"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gnasty", Subsystem: metricsSubsystem,
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"route", "method"}),
		streamClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gnasty", Subsystem: metricsSubsystem,
			Name: "stream_clients",
			Help: "Connected live run listeners.",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty", Subsystem: metricsSubsystem,
			Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty", Subsystem: metricsSubsystem,
			Name: "run_store_errors_total",
			Help: "Run records the store failed to persist.",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.latency, m.responseBytes, m.rateLimited, m.submissions,
		m.streamClients, m.streamSent, m.streamDropped, m.storeErrors,
	)
	return m
}

// Register adds collectors owned by other packages to the same registry.
func (m *Metrics) Register(collectors ...prometheus.Collector) error {
	if m == nil {
		return nil
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(dur.Seconds())
	if bytes > 0 {
		m.responseBytes.WithLabelValues(route).Add(float64(bytes))
	}
}

func (m *Metrics) IncTriggerSubmitted(test bool) {
	if m == nil {
		return
	}
	mode := "live"
	if test {
		mode = "test"
	}
	m.submissions.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncWSClients(delta float64)  { m.addClients("ws", delta) }
func (m *Metrics) IncSSEClients(delta float64) { m.addClients("sse", delta) }

func (m *Metrics) addClients(transport string, delta float64) {
	if m == nil {
		return
	}
	m.streamClients.WithLabelValues(transport).Add(delta)
}

func (m *Metrics) IncBroadcastDrops(transport string) {
	if m == nil {
		return
	}
	m.streamDropped.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncRunsSent(transport string) {
	if m == nil {
		return
	}
	m.streamSent.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) IncDBWriteErrors() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}
