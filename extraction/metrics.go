package extraction

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Record outcomes.
const (
	OutcomeTransactional = "transactional"
	OutcomeInformational = "informational"
	OutcomeFailed        = "failed"
)

// Metrics holds Prometheus metrics for extraction runs. A nil *Metrics
// records nothing.
type Metrics struct {
	RecordsTotal      *prometheus.CounterVec
	TransactionsTotal prometheus.Counter

	CommitsTotal   *prometheus.CounterVec
	CommitDuration prometheus.Histogram

	ActiveJobs prometheus.Gauge
}

// NewMetrics creates and registers the extraction metrics on the default
// registry. Registration happens once per process.
//
// Metrics:
//   - emx_extraction_records_total{outcome} - records handled per outcome
//   - emx_extraction_transactions_total - transactions committed
//   - emx_extraction_commits_total{result} - batch commits by result
//   - emx_extraction_commit_duration_seconds - batch commit latency
//   - emx_extraction_active_jobs - executions running in this process
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return globalMetrics
}

// NewMetricsWithRegistry registers a fresh set of metrics on reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		RecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emx_extraction_records_total",
				Help: "Total number of records handled by extraction runs",
			},
			[]string{"outcome"}, // "transactional", "informational" or "failed"
		),
		TransactionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "emx_extraction_transactions_total",
			Help: "Total number of transactions committed",
		}),
		CommitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emx_extraction_commits_total",
				Help: "Total number of batch commits",
			},
			[]string{"result"}, // "ok" or "error"
		),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "emx_extraction_commit_duration_seconds",
			Help:    "Duration of batch commits in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "emx_extraction_active_jobs",
			Help: "Number of extraction jobs executing in this process",
		}),
	}
}

// Record counts one handled record.
func (m *Metrics) Record(outcome string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(outcome).Inc()
}

// Commit records a batch commit.
func (m *Metrics) Commit(d time.Duration, transactions int, err error) {
	if m == nil {
		return
	}
	m.CommitDuration.Observe(d.Seconds())
	if err != nil {
		m.CommitsTotal.WithLabelValues("error").Inc()
		return
	}
	m.CommitsTotal.WithLabelValues("ok").Inc()
	m.TransactionsTotal.Add(float64(transactions))
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted() {
	if m != nil {
		m.ActiveJobs.Inc()
	}
}

// JobFinished decrements the active job gauge.
func (m *Metrics) JobFinished() {
	if m != nil {
		m.ActiveJobs.Dec()
	}
}
