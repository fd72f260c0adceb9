package attendance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	scans         *prometheus.CounterVec
	verifications *prometheus.CounterVec
	commits       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	inFlight      prometheus.Gauge
	runDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg (when non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "scans_total",
			Help:      "Scan events by result (accepted or dropped).",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "verifications_total",
			Help:      "Liveliness verification outcomes.",
		}, []string{"outcome", "reason"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "commits_total",
			Help:      "Attendance commit attempts by result.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "presence",
			Name:      "runs_total",
			Help:      "Finished scan-to-commit runs by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "presence",
			Name:      "pipeline_in_flight",
			Help:      "1 while a run holds the processing guard.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "presence",
			Name:      "run_duration_seconds",
			Help:      "Wall time from scan acceptance to run end.",
			Buckets:   []float64{1, 2, 4, 6, 8, 10, 15, 20, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.verifications, m.commits, m.runs, m.inFlight, m.runDuration)
	}
	return m
}

func (m *Metrics) scan(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.scans.WithLabelValues("accepted").Inc()
		m.inFlight.Set(1)
		return
	}
	m.scans.WithLabelValues("dropped").Inc()
}

func (m *Metrics) verification(outcome, reason string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) commit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) runEnded(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.inFlight.Set(0)
	m.runDuration.Observe(d.Seconds())
}
