package aetree

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts tree activity. A nil *Metrics records nothing.
type Metrics struct {
	rowsInserted   prometheus.Counter
	comparisons    prometheus.Counter
	rangesReported prometheus.Counter
	diffs          *prometheus.CounterVec
	diffDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg, if given.
// One Metrics can be shared by any number of trees.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rowsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aetree_rows_inserted_total",
			Help: "Number of row digests installed in tree leaves",
		}),
		comparisons: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aetree_digest_comparisons_total",
			Help: "Number of node digests compared across trees",
		}),
		rangesReported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aetree_diff_ranges_total",
			Help: "Number of divergent ranges reported",
		}),
		diffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aetree_diffs_total",
			Help: "Number of tree comparisons by outcome",
		}, []string{"outcome"}),
		diffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aetree_diff_duration_seconds",
			Help:    "Time taken to compare two trees",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.rowsInserted, m.comparisons, m.rangesReported, m.diffs, m.diffDuration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) inserted() {
	if m != nil {
		m.rowsInserted.Inc()
	}
}

func (m *Metrics) compared() {
	if m != nil {
		m.comparisons.Inc()
	}
}

func (m *Metrics) diffed(took time.Duration, diffs []Range, err error) {
	if m == nil {
		return
	}
	outcome := "identical"
	if err != nil {
		outcome = "failed"
	} else if len(diffs) > 0 {
		outcome = "divergent"
	}
	m.diffs.WithLabelValues(outcome).Inc()
	m.rangesReported.Add(float64(len(diffs)))
	m.diffDuration.Observe(took.Seconds())
}
