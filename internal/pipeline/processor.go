package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netflow-console/internal/client"
	"netflow-console/internal/filters"
	"netflow-console/internal/metrics"
	"netflow-console/internal/model"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TopologySource evaluates one encoded filter string over a time range
type TopologySource interface {
	Name() string
	GetTopology(ctx context.Context, filter string, rng model.TimeRange, limit int) (model.TopologyResult, error)
}

// FlowSource serves individual flow records
type FlowSource interface {
	GetFlows(ctx context.Context, filter string, rng model.TimeRange, limit int) ([]model.Flow, error)
	StreamFlows(ctx context.Context, filter string, fn func(*model.Flow) error) error
}

// ErrNoFlowSource is returned for flow queries when no flow source is configured
var ErrNoFlowSource = errors.New("no flow source configured")

// Processor builds backend queries from filter sets and merges their results
type Processor struct {
	registry   *filters.Registry
	source     TopologySource
	flows      FlowSource
	aggregator *metrics.Aggregator
	timeout    time.Duration
	logger     *logrus.Logger
	metrics    *client.ConsoleMetrics
}

// NewProcessor creates a new processor instance. flows may be nil.
func NewProcessor(registry *filters.Registry, source TopologySource, flows FlowSource, aggregator *metrics.Aggregator,
	timeout time.Duration, logger *logrus.Logger, m *client.ConsoleMetrics) *Processor {
	return &Processor{
		registry:   registry,
		source:     source,
		flows:      flows,
		aggregator: aggregator,
		timeout:    timeout,
		logger:     logger,
		metrics:    m,
	}
}

// Registry returns the filter definitions used by the processor
func (p *Processor) Registry() *filters.Registry {
	return p.registry
}

// HasFlowSource reports whether flow record queries can be served
func (p *Processor) HasFlowSource() bool {
	return p.flows != nil
}

// Plan returns the backend filter strings for a filter set
func (p *Processor) Plan(fs filters.FilterSet) filters.Plan {
	return filters.BuildPlan(p.registry, fs)
}

// QueryMetrics runs the 1 to 3 backend queries of the filter set in parallel
// and merges them. The result is trimmed to limit series when limit is positive.
// Values are not clamped.
func (p *Processor) QueryMetrics(ctx context.Context, fs filters.FilterSet, rng model.TimeRange, limit int) (model.TopologyResult, error) {
	if err := metrics.Validate(rng, p.aggregator.Step(rng)); err != nil {
		return model.TopologyResult{}, err
	}

	plan := p.Plan(fs)
	queries := plan.Queries()
	p.logger.Debugf("Querying %s with %d filter strings: %v", p.source.Name(), len(queries), queries)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results := make([]model.TopologyResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := p.source.GetTopology(gctx, q, rng, limit)
			if err != nil {
				return fmt.Errorf("query %q: %w", q, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Errorf("Backend query failed: %v", err)
		return model.TopologyResult{}, err
	}

	start := time.Now()
	var merged model.TopologyResult
	switch len(results) {
	case 1:
		merged = p.aggregator.WithStats(rng, results[0])
	case 2:
		merged = p.aggregator.MergeTopologyMetricsBNF(rng, results[0], results[1], nil)
	default:
		merged = p.aggregator.MergeTopologyMetricsBNF(rng, results[0], results[1], &results[2])
	}
	merged = metrics.TopK(merged, limit)

	if p.metrics != nil {
		p.metrics.RecordMerge(time.Since(start).Seconds(), merged.Stats.LimitReached)
	}
	return merged, nil
}

// QueryFlows returns flow records matching the filter set. Both directions are
// requested in one grouped filter string, the flow source evaluating each
// record once.
func (p *Processor) QueryFlows(ctx context.Context, fs filters.FilterSet, rng model.TimeRange, limit int) ([]model.Flow, error) {
	if p.flows == nil {
		return nil, ErrNoFlowSource
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	filter := filters.BuildGrouped(p.registry, fs)
	p.logger.Debugf("Querying flows with filter %s", filter)
	return p.flows.GetFlows(ctx, filter, rng, limit)
}

// StreamFlows follows live flow records matching the filter set
func (p *Processor) StreamFlows(ctx context.Context, fs filters.FilterSet, fn func(*model.Flow) error) error {
	if p.flows == nil {
		return ErrNoFlowSource
	}
	return p.flows.StreamFlows(ctx, filters.BuildGrouped(p.registry, fs), fn)
}
