package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xmhha/starknet-hive/internal/account"
	"github.com/0xmhha/starknet-hive/internal/log"
	"github.com/0xmhha/starknet-hive/internal/provider"
	"github.com/0xmhha/starknet-hive/internal/waiter"
	"github.com/0xmhha/starknet-hive/pkg/types"
)

// Metrics holds all Prometheus metrics for starknet-hive
type Metrics struct {
	registry *prometheus.Registry

	// Transaction counters
	TxSubmitted *prometheus.CounterVec
	TxAccepted  prometheus.Counter
	TxRejected  prometheus.Counter
	TxTimeout   prometheus.Counter

	// Confirmation latency (buckets: 100ms, 500ms, 1s, 2s, 5s, 10s, 30s, 60s)
	TxLatency prometheus.Histogram

	// Receipt polls by observed state
	Polls *prometheus.CounterVec

	// RPC round trips
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Account nonce as tracked locally
	AccountNonce prometheus.Gauge

	// Stage duration histogram
	StageDuration *prometheus.HistogramVec

	log log.Logger

	// HTTP server
	server *http.Server
	mu     sync.Mutex
}

var (
	_ provider.Recorder      = (*Metrics)(nil)
	_ account.SubmitObserver = (*Metrics)(nil)
	_ waiter.Recorder        = (*Metrics)(nil)
)

// NewMetrics creates a new Metrics instance on a private registry
func NewMetrics(namespace string, logger log.Logger) *Metrics {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		log:      logger,
		TxSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submitted_total",
			Help:      "Total number of transaction submissions by type and outcome",
		}, []string{"type", "result"}),
		TxAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_accepted_total",
			Help:      "Total number of transactions accepted",
		}),
		TxRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_rejected_total",
			Help:      "Total number of transactions rejected or reverted",
		}),
		TxTimeout: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_timeout_total",
			Help:      "Total number of transactions that exhausted the polling budget",
		}),
		TxLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_latency_seconds",
			Help:      "Time from first poll to acceptance in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		Polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_polls_total",
			Help:      "Total number of receipt polls by observed state",
		}, []string{"state"}),
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of JSON-RPC round trips by method and outcome",
		}, []string{"method", "result"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "JSON-RPC round trip duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		AccountNonce: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_nonce",
			Help:      "Nonce the account will use for its next transaction",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each hive stage in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "result"}),
	}
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Start starts the HTTP server for Prometheus metrics
func (m *Metrics) Start(_ context.Context, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := m.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorw("Metrics server failed", "err", err)
		}
	}()

	return nil
}

// Stop stops the HTTP server gracefully
func (m *Metrics) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}

	err := m.server.Shutdown(ctx)
	m.server = nil
	return err
}

// ObserveRPC records one JSON-RPC round trip
func (m *Metrics) ObserveRPC(method string, duration time.Duration, err error) {
	m.RPCRequests.WithLabelValues(method, result(err)).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveSubmit records one transaction submission
func (m *Metrics) ObserveSubmit(kind types.TxnType, err error) {
	m.TxSubmitted.WithLabelValues(string(kind), result(err)).Inc()
}

// SetNonce sets the account nonce gauge
func (m *Metrics) SetNonce(nonce uint64) {
	m.AccountNonce.Set(float64(nonce))
}

// ObservePoll increments the poll counter for the observed state
func (m *Metrics) ObservePoll(state waiter.State) {
	m.Polls.WithLabelValues(state.String()).Inc()
}

// ObserveOutcome records how a wait ended
func (m *Metrics) ObserveOutcome(state waiter.State, elapsed time.Duration) {
	switch state {
	case waiter.StateAccepted:
		m.TxAccepted.Inc()
		m.TxLatency.Observe(elapsed.Seconds())
	case waiter.StateRejected:
		m.TxRejected.Inc()
	case waiter.StateTimedOut:
		m.TxTimeout.Inc()
	}
}

// RecordStageDuration records the duration of a hive stage
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage, result(err)).Observe(duration.Seconds())
}

// IsRunning returns true if the metrics server is running
func (m *Metrics) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server != nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
