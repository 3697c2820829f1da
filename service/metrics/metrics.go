package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct is
// passed to every component that records metrics; a nil *Metrics disables
// recording.
type Metrics struct {
	// Horizon (primary ledger) metrics
	horizonCallsTotal   *prometheus.CounterVec
	horizonCallDuration *prometheus.HistogramVec

	// Transaction submission metrics
	submitsTotal *prometheus.CounterVec

	// Settlement metrics
	settlementsTotal   *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec

	// Issuance metrics
	issuanceTotal *prometheus.CounterVec

	// Reconciliation metrics
	reconcileRecordsTotal *prometheus.CounterVec
	reconcileMergesTotal  *prometheus.CounterVec

	// Secondary rail (Solana) metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Workflow metrics
	reconcileWorkflowsTotal   *prometheus.CounterVec
	reconcileActivityDuration *prometheus.HistogramVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		horizonCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_calls_total",
				Help: "Total number of Horizon calls by operation and status",
			},
			[]string{"operation", "status", "endpoint"},
		),
		horizonCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horizon_call_duration_seconds",
				Help:    "Duration of Horizon calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation", "endpoint"},
		),
		submitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_submits_total",
				Help: "Total number of submitted ledger transactions by kind and status",
			},
			[]string{"kind", "status"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Total number of purchase settlements by rail and terminal status",
			},
			[]string{"rail", "status"},
		),
		settlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_duration_seconds",
				Help:    "Duration of purchase settlement attempts in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"rail"},
		),
		issuanceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asset_issuances_total",
				Help: "Total number of asset issuance sagas by outcome",
			},
			[]string{"status"},
		),
		reconcileRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_records_total",
				Help: "Total number of ledger history records classified per wallet",
			},
			[]string{"wallet"},
		),
		reconcileMergesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_merges_total",
				Help: "Total number of ledger records merged into local rows by memo hash",
			},
			[]string{"wallet"},
		),
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		reconcileWorkflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_workflows_total",
				Help: "Total number of reconcile workflow executions by status",
			},
			[]string{"status"},
		),
		reconcileActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_activity_duration_seconds",
				Help:    "Duration of reconcile activities in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
			},
			[]string{"activity"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by subject prefix and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publishes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"subject"},
		),
	}
}

// RecordHorizonCall records one Horizon call.
func (m *Metrics) RecordHorizonCall(operation, status, endpoint string, seconds float64) {
	m.horizonCallsTotal.WithLabelValues(operation, status, endpoint).Inc()
	m.horizonCallDuration.WithLabelValues(operation, endpoint).Observe(seconds)
}

// RecordSubmit records one submitted ledger transaction.
func (m *Metrics) RecordSubmit(kind, status string) {
	m.submitsTotal.WithLabelValues(kind, status).Inc()
}

// RecordSettlement records one settlement attempt reaching a terminal state.
func (m *Metrics) RecordSettlement(rail, status string, seconds float64) {
	m.settlementsTotal.WithLabelValues(rail, status).Inc()
	m.settlementDuration.WithLabelValues(rail).Observe(seconds)
}

// RecordIssuance records one asset issuance saga outcome.
func (m *Metrics) RecordIssuance(status string) {
	m.issuanceTotal.WithLabelValues(status).Inc()
}

// RecordReconcileRecords records classified history records for a wallet.
func (m *Metrics) RecordReconcileRecords(wallet string, count float64) {
	m.reconcileRecordsTotal.WithLabelValues(wallet).Add(count)
}

// RecordReconcileMerge records a memo-hash merge into a local row.
func (m *Metrics) RecordReconcileMerge(wallet string) {
	m.reconcileMergesTotal.WithLabelValues(wallet).Inc()
}

// RecordSolanaRPCCall records one secondary-rail RPC call.
func (m *Metrics) RecordSolanaRPCCall(method, status string, seconds float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(seconds)
}

// RecordReconcileWorkflow records one reconcile workflow execution.
func (m *Metrics) RecordReconcileWorkflow(status string) {
	m.reconcileWorkflowsTotal.WithLabelValues(status).Inc()
}

// RecordReconcileActivity records one reconcile activity duration.
func (m *Metrics) RecordReconcileActivity(activity string, seconds float64) {
	m.reconcileActivityDuration.WithLabelValues(activity).Observe(seconds)
}

// RecordNATSPublish records one NATS publish.
func (m *Metrics) RecordNATSPublish(subject, status string, seconds float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(seconds)
}
