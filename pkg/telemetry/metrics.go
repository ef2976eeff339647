package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics records sync run counters and latencies for Prometheus. A nil
// Metrics, or one built from a disabled config, records nothing.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	syncOperations   *prometheus.CounterVec
	linkedDocuments  *prometheus.CounterVec
	removedRelations *prometheus.CounterVec
	archivedDocs     *prometheus.CounterVec
	unresolvedPairs  *prometheus.CounterVec

	writeWait     *prometheus.HistogramVec
	queueTasks    *prometheus.CounterVec
	clientCalls   *prometheus.CounterVec
	clientLatency *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// metricSet registers collectors on one registry under a namespace.
type metricSet struct {
	reg       *prometheus.Registry
	namespace string
}

func (s metricSet) counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: s.namespace, Name: name, Help: help}, labels)
	s.reg.MustRegister(c)
	return c
}

func (s metricSet) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: s.namespace, Name: name, Help: help, Buckets: buckets}, labels)
	s.reg.MustRegister(h)
	return h
}

// NewMetrics registers the sanesync collectors on a private registry. A
// disabled config returns a Metrics that records nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	s := metricSet{reg: prometheus.NewRegistry(), namespace: cfg.Namespace}

	m := &Metrics{config: cfg, registry: s.reg}

	m.runsStarted = s.counter("runs_started_total", "Sync runs started", "operation")
	m.runsCompleted = s.counter("runs_completed_total", "Sync runs finished", "operation", "status")
	m.runDuration = s.histogram("run_duration_seconds", "Wall time of sync runs",
		prometheus.ExponentialBuckets(0.5, 2, 12), "operation", "status")
	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "active_runs",
		Help:      "Sync runs in progress",
	})
	s.reg.MustRegister(m.activeRuns)

	m.syncOperations = s.counter("sync_operations_total", "Reconciled items by kind and outcome", "kind", "type")
	m.linkedDocuments = s.counter("linked_documents_total", "Relations committed by the linker", "kind")
	m.removedRelations = s.counter("removed_relations_total", "Stale relations removed by the linker", "kind")
	m.archivedDocs = s.counter("archived_documents_total", "Documents archived because their source item vanished", "kind")
	m.unresolvedPairs = s.counter("unresolved_pairs_total", "Related items resolved on neither side", "kind", "policy")

	m.writeWait = s.histogram("write_throttle_wait_seconds", "Time spent waiting before target store writes", buckets)
	m.queueTasks = s.counter("queue_tasks_total", "Work queue tasks by queue and status", "queue", "status")
	m.clientCalls = s.counter("client_calls_total", "Calls against the source catalog and target store", "client", "operation", "status")
	m.clientLatency = s.histogram("client_call_duration_seconds", "Latency of source catalog and target store calls", buckets, "client", "operation")

	m.errorsByClass = s.counter("errors_by_class_total", "Run failures by error class", "class")
	m.errorsByCode = s.counter("errors_by_code_total", "Run failures by error code", "code")

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(operation string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(operation).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(operation, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordSyncOperation counts one reconciled item.
func (m *Metrics) RecordSyncOperation(kind, opType string) {
	if !m.enabled() {
		return
	}
	m.syncOperations.WithLabelValues(kind, opType).Inc()
}

// RecordLinked counts relations committed for a document of kind.
func (m *Metrics) RecordLinked(kind string, relations int) {
	if !m.enabled() {
		return
	}
	m.linkedDocuments.WithLabelValues(kind).Add(float64(relations))
}

// RecordRelationsRemoved counts stale relations removed from a document of kind.
func (m *Metrics) RecordRelationsRemoved(kind string, relations int) {
	if !m.enabled() || relations == 0 {
		return
	}
	m.removedRelations.WithLabelValues(kind).Add(float64(relations))
}

// RecordArchived counts one archived document.
func (m *Metrics) RecordArchived(kind string) {
	if !m.enabled() {
		return
	}
	m.archivedDocs.WithLabelValues(kind).Inc()
}

// RecordUnresolvedPair counts a relation endpoint that could not be resolved.
func (m *Metrics) RecordUnresolvedPair(kind, policy string) {
	if !m.enabled() {
		return
	}
	m.unresolvedPairs.WithLabelValues(kind, policy).Inc()
}

// RecordWriteWait observes time spent in the write throttle.
func (m *Metrics) RecordWriteWait(d time.Duration) {
	if !m.enabled() {
		return
	}
	m.writeWait.WithLabelValues().Observe(d.Seconds())
}

// RecordQueueTask counts one work queue task outcome.
func (m *Metrics) RecordQueueTask(queue, status string) {
	if !m.enabled() {
		return
	}
	m.queueTasks.WithLabelValues(queue, status).Inc()
}

// RecordClientCall records a call to the catalog or the store.
func (m *Metrics) RecordClientCall(client, operation string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.clientCalls.WithLabelValues(client, operation, status).Inc()
	m.clientLatency.WithLabelValues(client, operation).Observe(duration.Seconds())
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.enabled() {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Info().Str("addr", m.config.ListenAddress).Str("path", m.config.Path).Msg("Serving metrics")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
