package commit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus counters for batch commits.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	items    *prometheus.CounterVec   // By kind (team, api, subscription) and outcome (created, failed)
	batches  *prometheus.CounterVec   // By track and outcome (ok, partial, fatal)
	duration *prometheus.HistogramVec // By track
}

// NewMetrics creates commit metrics and registers them with reg.
// A nil reg disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gwimport",
			Subsystem: "commit",
			Name:      "items_total",
			Help:      "Target entities attempted during commit",
		}, []string{"kind", "outcome"}),

		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gwimport",
			Subsystem: "commit",
			Name:      "batches_total",
			Help:      "Commit batches run",
		}, []string{"track", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gwimport",
			Subsystem: "commit",
			Name:      "batch_duration_seconds",
			Help:      "Commit batch duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"track"}),
	}

	for _, c := range []prometheus.Collector{m.items, m.batches, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) item(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "created"
	if err != nil {
		outcome = "failed"
	}
	m.items.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) batch(track string, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(track, outcome).Inc()
	m.duration.WithLabelValues(track).Observe(time.Since(started).Seconds())
}
