package trigger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	eventsTotal   *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	stepsTotal    prometheus.Counter
	surfaceErrors *prometheus.CounterVec
	runDuration   prometheus.Histogram
	spoolDepth    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "trigger",
			Name:      "events_total",
			Help:      "Events submitted to the engine",
		}, []string{"kind", "test"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "trigger",
			Name:      "runs_total",
			Help:      "Spool entries processed, by outcome",
		}, []string{"outcome"}),
		stepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "trigger",
			Name:      "steps_total",
			Help:      "Steps applied to the control surface",
		}),
		surfaceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Subsystem: "trigger",
			Name:      "surface_errors_total",
			Help:      "Failed control surface calls",
		}, []string{"op"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gnasty",
			Subsystem: "trigger",
			Name:      "run_duration_seconds",
			Help:      "Time from the first step to the end of a run",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		spoolDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Subsystem: "trigger",
			Name:      "spool_depth",
			Help:      "Entries waiting in the spool, including the active one",
		}),
	}
}

// Collectors returns every collector for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.eventsTotal, m.runsTotal, m.stepsTotal,
		m.surfaceErrors, m.runDuration, m.spoolDepth,
	}
}

func (m *Metrics) incEvent(kind string, test bool) {
	if m == nil {
		return
	}
	label := "false"
	if test {
		label = "true"
	}
	m.eventsTotal.WithLabelValues(kind, label).Inc()
}

func (m *Metrics) observeRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) incStep() {
	if m == nil {
		return
	}
	m.stepsTotal.Inc()
}

func (m *Metrics) incSurfaceError(op string) {
	if m == nil {
		return
	}
	m.surfaceErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) setSpoolDepth(n int) {
	if m == nil {
		return
	}
	m.spoolDepth.Set(float64(n))
}
