package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped onto every batch metric.
type Config struct {
	ServiceName string
	Environment string
}

// BatchMetrics captures ingestion pipeline health signals.
type BatchMetrics struct {
	batchesSubmitted  prometheus.Counter
	jobsFinished      *prometheus.CounterVec
	jobDuration       prometheus.Observer
	invoicesExtracted prometheus.Counter
	partiesCreated    *prometheus.CounterVec
}

var (
	batchMetricsOnce sync.Once
	batchMetrics     *BatchMetrics
)

// Batch returns the singleton batch metrics registry.
func Batch() *BatchMetrics {
	return BatchWithConfig(Config{})
}

// BatchWithConfig returns the singleton batch metrics registry using config labels.
func BatchWithConfig(cfg Config) *BatchMetrics {
	batchMetricsOnce.Do(func() {
		batchMetrics = newBatchMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return batchMetrics
}

// ResetBatchMetricsForTest resets the batch metrics singleton for tests.
func ResetBatchMetricsForTest() {
	batchMetricsOnce = sync.Once{}
	batchMetrics = nil
}

func newBatchMetrics(registerer prometheus.Registerer, cfg Config) *BatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "docpipe"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	batchesSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "docpipe_batches_submitted_total",
		Help:        "Accepted document batches.",
		ConstLabels: constLabels,
	})
	jobsFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docpipe_jobs_finished_total",
		Help:        "Jobs reaching a terminal state, by status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	jobDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "docpipe_job_duration_seconds",
		Help:        "Per-job processing latency across extract, resolve and persist.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	invoicesExtracted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "docpipe_invoices_extracted_total",
		Help:        "Invoices recovered from processed documents.",
		ConstLabels: constLabels,
	})
	partiesCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "docpipe_parties_created_total",
		Help:        "Parties auto-created during entity resolution, by type.",
		ConstLabels: constLabels,
	}, []string{"party_type"})

	registerer.MustRegister(
		batchesSubmitted,
		jobsFinished,
		jobDuration,
		invoicesExtracted,
		partiesCreated,
	)

	return &BatchMetrics{
		batchesSubmitted:  batchesSubmitted,
		jobsFinished:      jobsFinished,
		jobDuration:       jobDuration,
		invoicesExtracted: invoicesExtracted,
		partiesCreated:    partiesCreated,
	}
}

func (m *BatchMetrics) IncBatchSubmitted() {
	if m == nil {
		return
	}
	m.batchesSubmitted.Inc()
}

func (m *BatchMetrics) IncJobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(status).Inc()
}

func (m *BatchMetrics) ObserveJobDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(d.Seconds())
}

func (m *BatchMetrics) AddInvoicesExtracted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invoicesExtracted.Add(float64(n))
}

func (m *BatchMetrics) IncPartyCreated(partyType string) {
	if m == nil {
		return
	}
	m.partiesCreated.WithLabelValues(partyType).Inc()
}
