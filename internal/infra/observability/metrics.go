package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
)

// Message-handling result labels.
const (
	ResultParsed       = "parsed"
	ResultUntrusted    = "untrusted"
	ResultParseFailure = "parse_failure"
	ResultDuplicate    = "duplicate"
	ResultStoreError   = "store_error"
)

// Sync drain result labels.
const (
	SyncResultSynced = "synced"
	SyncResultFailed = "failed"
)

// Reconcile outcome labels.
const (
	OutcomeApplied   = "applied"
	OutcomeCreated   = "created"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// Metrics holds all Prometheus metrics for the gateway pipeline.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	messagesTotal     *prometheus.CounterVec
	syncTotal         *prometheus.CounterVec
	reconcileTotal    *prometheus.CounterVec
	ledgerErrors      *prometheus.CounterVec
	pendingQueue      prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_operation_duration_seconds",
				Help:    "Duration of pipeline operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_messages_total",
				Help: "Inbound messages by handling result.",
			},
			[]string{"result"},
		),
		syncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_sync_total",
				Help: "Pending-queue drain attempts by result.",
			},
			[]string{"result"},
		),
		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_reconcile_total",
				Help: "Reconciliation runs by outcome.",
			},
			[]string{"outcome"},
		),
		ledgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ledger_errors_total",
				Help: "Errors from the remote ledger store.",
			},
			[]string{"op"},
		),
		pendingQueue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_pending_queue_depth",
				Help: "Transactions queued locally, not yet synced.",
			},
		),
	}
}

// RecordOperationDuration records the duration of a pipeline operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrMessage counts one inbound message with its handling result.
func (m *Metrics) IncrMessage(result string) {
	m.messagesTotal.WithLabelValues(result).Inc()
}

// IncrSync counts one per-entry sync attempt.
func (m *Metrics) IncrSync(result string) {
	m.syncTotal.WithLabelValues(result).Inc()
}

// IncrReconcile counts one reconciliation run by outcome.
func (m *Metrics) IncrReconcile(outcome string) {
	m.reconcileTotal.WithLabelValues(outcome).Inc()
}

// IncrLedgerError counts a failed ledger store call by operation.
func (m *Metrics) IncrLedgerError(op string) {
	m.ledgerErrors.WithLabelValues(op).Inc()
}

// SetPendingQueueDepth updates the pending-queue gauge.
func (m *Metrics) SetPendingQueueDepth(n int) {
	m.pendingQueue.Set(float64(n))
}

// GetPipelineSnapshot returns cumulative pipeline counters for the
// GET /v1/metrics/pipeline endpoint.
func (m *Metrics) GetPipelineSnapshot() *domain.PipelineMetrics {
	parsed := getCounterValue(m.messagesTotal, ResultParsed)
	failures := getCounterValue(m.messagesTotal, ResultParseFailure)
	untrusted := getCounterValue(m.messagesTotal, ResultUntrusted)
	duplicates := getCounterValue(m.messagesTotal, ResultDuplicate)
	storeErrors := getCounterValue(m.messagesTotal, ResultStoreError)
	received := parsed + failures + untrusted + duplicates + storeErrors

	successRate := float64(0)
	if attempted := parsed + failures; attempted > 0 {
		successRate = parsed / attempted
	}

	return &domain.PipelineMetrics{
		MessagesReceived:   int64(received),
		MessagesParsed:     int64(parsed),
		ParseFailures:      int64(failures),
		UntrustedDropped:   int64(untrusted),
		Duplicates:         int64(duplicates),
		PendingQueueDepth:  int64(getGaugeValue(m.pendingQueue)),
		SyncedTotal:        int64(getCounterValue(m.syncTotal, SyncResultSynced)),
		SyncFailures:       int64(getCounterValue(m.syncTotal, SyncResultFailed)),
		ReconcileApplied:   int64(getCounterValue(m.reconcileTotal, OutcomeApplied)),
		ReconcileCreated:   int64(getCounterValue(m.reconcileTotal, OutcomeCreated)),
		ReconcileUnmatched: int64(getCounterValue(m.reconcileTotal, OutcomeUnmatched)),
		ParseSuccessRate:   successRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
