package client

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"netflow-console/internal/filters"
	"netflow-console/internal/metrics"
	"netflow-console/internal/model"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

const prometheusBackend = "prometheus"

// PrometheusOptions configures a PrometheusClient
type PrometheusOptions struct {
	URL     string
	Metric  string
	GroupBy []string
	Timeout time.Duration
	Policy  metrics.StepPolicy
	// RoundTripper overrides the HTTP transport, mostly for tests
	RoundTripper http.RoundTripper
	Clock        clock.PassiveClock
}

// PrometheusClient translates console filter strings into PromQL range queries
type PrometheusClient struct {
	client  v1.API
	url     string
	metric  string
	groupBy []string
	timeout time.Duration
	policy  metrics.StepPolicy
	clock   clock.PassiveClock
	logger  *logrus.Logger
	metrics *ConsoleMetrics
}

// NewPrometheusClient creates a new Prometheus client
func NewPrometheusClient(opts PrometheusOptions, logger *logrus.Logger, m *ConsoleMetrics) (*PrometheusClient, error) {
	cfg := api.Config{Address: opts.URL}
	if opts.RoundTripper != nil {
		cfg.RoundTripper = opts.RoundTripper
	}
	promClient, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &PrometheusClient{
		client:  v1.NewAPI(promClient),
		url:     opts.URL,
		metric:  opts.Metric,
		groupBy: opts.GroupBy,
		timeout: opts.Timeout,
		policy:  opts.Policy,
		clock:   clk,
		logger:  logger,
		metrics: m,
	}, nil
}

func (p *PrometheusClient) Name() string {
	return prometheusBackend
}

// GetTopology runs one range query for an encoded filter string
func (p *PrometheusClient) GetTopology(ctx context.Context, filter string, rng model.TimeRange, limit int) (model.TopologyResult, error) {
	groups, err := filters.Parse(filter)
	if err != nil {
		return model.TopologyResult{}, err
	}

	from, to := rng.Resolve(p.clock.Now())
	step := p.policy.StepFor(to - from)
	query := BuildPromQL(p.metric, p.groupBy, groups, metrics.RateInterval(step), limit)
	p.logger.Debugf("PromQL query: %s", query)

	r := v1.Range{
		Start: time.Unix(from, 0),
		End:   time.Unix(to, 0),
		Step:  time.Duration(step) * time.Second,
	}

	start := time.Now()
	value, err := p.QueryRange(ctx, query, r)
	if err != nil {
		p.recordError("query_failed")
		return model.TopologyResult{}, fmt.Errorf("prometheus query failed: %w", err)
	}

	matrix, ok := value.(prommodel.Matrix)
	if !ok {
		p.recordError("unexpected_result")
		return model.TopologyResult{}, fmt.Errorf("unexpected prometheus result type %s", value.Type())
	}

	result := model.TopologyResult{
		Metrics: matrixToMetrics(matrix),
		Stats: model.QueryStats{
			NumQueries:   1,
			LimitReached: limit > 0 && len(matrix) >= limit,
		},
	}
	if p.metrics != nil {
		p.metrics.RecordQuery(prometheusBackend, time.Since(start).Seconds(), len(matrix))
	}
	return result, nil
}

// QueryRange executes a Prometheus range query
func (p *PrometheusClient) QueryRange(ctx context.Context, query string, r v1.Range) (prommodel.Value, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, warnings, err := p.client.QueryRange(ctx, query, r)
	for _, w := range warnings {
		p.logger.Warnf("Prometheus warning: %s", w)
	}
	return result, err
}

func (p *PrometheusClient) recordError(reason string) {
	if p.metrics != nil {
		p.metrics.RecordQueryError(prometheusBackend, reason)
	}
}

// BuildPromQL turns OR-ed filter groups into a single PromQL expression.
// Each group becomes one rate() selector; selectors are combined with "or"
// so that a series selected by several groups is only counted once.
func BuildPromQL(metric string, groupBy []string, groups []filters.Group, rateSeconds int64, limit int) string {
	window := fmt.Sprintf("%ds", rateSeconds)

	selectors := make([]string, 0, len(groups))
	for _, g := range groups {
		selectors = append(selectors, fmt.Sprintf("rate(%s{%s}[%s])", metric, labelMatchers(g), window))
	}
	if len(selectors) == 0 {
		selectors = append(selectors, fmt.Sprintf("rate(%s[%s])", metric, window))
	}

	query := fmt.Sprintf("sum by(%s)(%s)", strings.Join(groupBy, ","), strings.Join(selectors, " or "))
	if limit > 0 {
		query = fmt.Sprintf("topk(%d, %s)", limit, query)
	}
	return query
}

func labelMatchers(g filters.Group) string {
	matchers := make([]string, 0, len(g))
	for _, m := range g {
		matchers = append(matchers, labelMatcher(m))
	}
	return strings.Join(matchers, ",")
}

func labelMatcher(m filters.Match) string {
	if len(m.Values) == 1 {
		op := "="
		if m.Not {
			op = "!="
		}
		return fmt.Sprintf("%s%s%q", m.Key, op, m.Values[0])
	}

	quoted := make([]string, 0, len(m.Values))
	for _, v := range m.Values {
		quoted = append(quoted, regexp.QuoteMeta(v))
	}
	op := "=~"
	if m.Not {
		op = "!~"
	}
	return fmt.Sprintf("%s%s%q", m.Key, op, strings.Join(quoted, "|"))
}

// matrixToMetrics converts a range query result, sorted by label set
func matrixToMetrics(matrix prommodel.Matrix) []model.TopologyMetrics {
	result := make([]model.TopologyMetrics, 0, len(matrix))
	for _, stream := range matrix {
		labels := make(map[string]string, len(stream.Metric))
		for k, v := range stream.Metric {
			labels[string(k)] = string(v)
		}

		values := make([]model.DataPoint, 0, len(stream.Values))
		for _, pair := range stream.Values {
			values = append(values, model.DataPoint{
				Timestamp: pair.Timestamp.Unix(),
				Value:     float64(pair.Value),
			})
		}
		result = append(result, model.TopologyMetrics{Labels: labels, Values: values})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return model.LabelsKey(result[i].Labels) < model.LabelsKey(result[j].Labels)
	})
	return result
}
