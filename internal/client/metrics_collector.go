package client

import (
	"strings"

	"netflow-console/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConsoleMetrics are the self-observability metrics of the console backend
type ConsoleMetrics struct {
	// Backend query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryErrors   *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	SeriesFetched *prometheus.CounterVec

	// Aggregation metrics
	MergeDuration prometheus.Histogram
	LimitReached  prometheus.Counter

	// Cache metrics
	CacheRequests *prometheus.CounterVec

	// Flow record metrics
	FlowsServed      *prometheus.CounterVec
	FlowsByProtocol  *prometheus.CounterVec
	ActiveStreams    prometheus.Gauge
	ConnectionErrors *prometheus.CounterVec
}

// NewConsoleMetrics registers the console metrics with reg. A nil registerer
// creates unregistered metrics, which is what tests want.
func NewConsoleMetrics(reg prometheus.Registerer) *ConsoleMetrics {
	factory := promauto.With(reg)

	return &ConsoleMetrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_backend_queries_total",
				Help: "Total number of queries sent to metrics backends",
			},
			[]string{"backend"},
		),

		QueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_backend_query_errors_total",
				Help: "Total number of failed backend queries",
			},
			[]string{"backend", "reason"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flow_console_backend_query_duration_seconds",
				Help:    "Duration of backend queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		SeriesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_backend_series_total",
				Help: "Total number of series returned by backends",
			},
			[]string{"backend"},
		),

		MergeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flow_console_merge_duration_seconds",
				Help:    "Duration of back-and-forth result merges",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
		),

		LimitReached: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flow_console_limit_reached_total",
				Help: "Total number of results trimmed to the series limit",
			},
		),

		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_cache_requests_total",
				Help: "Result cache lookups by outcome",
			},
			[]string{"result"},
		),

		FlowsServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_flows_served_total",
				Help: "Total number of flow records served",
			},
			[]string{"verdict", "namespace"},
		),

		FlowsByProtocol: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_flows_by_protocol_total",
				Help: "Total number of flow records served by protocol",
			},
			[]string{"protocol"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "flow_console_active_streams",
				Help: "Number of open flow streams",
			},
		),

		ConnectionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flow_console_connection_errors_total",
				Help: "Total number of flow source connection errors",
			},
			[]string{"type"},
		),
	}
}

func (m *ConsoleMetrics) RecordQuery(backend string, seconds float64, series int) {
	m.QueriesTotal.WithLabelValues(backend).Inc()
	m.QueryDuration.WithLabelValues(backend).Observe(seconds)
	m.SeriesFetched.WithLabelValues(backend).Add(float64(series))
}

func (m *ConsoleMetrics) RecordQueryError(backend, reason string) {
	m.QueriesTotal.WithLabelValues(backend).Inc()
	m.QueryErrors.WithLabelValues(backend, reason).Inc()
}

func (m *ConsoleMetrics) RecordMerge(seconds float64, limitReached bool) {
	m.MergeDuration.Observe(seconds)
	if limitReached {
		m.LimitReached.Inc()
	}
}

func (m *ConsoleMetrics) RecordCache(hit bool) {
	if hit {
		m.CacheRequests.WithLabelValues("hit").Inc()
		return
	}
	m.CacheRequests.WithLabelValues("miss").Inc()
}

// StreamOpened and StreamClosed track open live flow streams
func (m *ConsoleMetrics) StreamOpened() {
	m.ActiveStreams.Inc()
}

func (m *ConsoleMetrics) StreamClosed() {
	m.ActiveStreams.Dec()
}

func (m *ConsoleMetrics) RecordConnectionError(errorType string) {
	m.ConnectionErrors.WithLabelValues(errorType).Inc()
}

// RecordFlow counts a flow record sent to a client
func (m *ConsoleMetrics) RecordFlow(flow *model.Flow) {
	if flow == nil {
		return
	}

	namespace := "unknown"
	if flow.Source != nil && flow.Source.Namespace != "" {
		namespace = flow.Source.Namespace
	} else if flow.Destination != nil && flow.Destination.Namespace != "" {
		namespace = flow.Destination.Namespace
	}
	m.FlowsServed.WithLabelValues(strings.ToLower(flow.Verdict.String()), namespace).Inc()

	protocol := "other"
	if flow.L4 != nil {
		switch {
		case flow.L4.TCP != nil:
			protocol = "tcp"
		case flow.L4.UDP != nil:
			protocol = "udp"
		}
	}
	m.FlowsByProtocol.WithLabelValues(protocol).Inc()
}
