package metrics

import (
	"sort"

	"k8s.io/utils/clock"

	"netflow-console/internal/model"
)

// Sum adds series with the same label set point by point. Points are paired
// when their timestamps are less than half a step apart; unpaired points and
// series present on one side only pass through unchanged.
func Sum(a, b []model.TopologyMetrics, step int64) []model.TopologyMetrics {
	return combine(a, b, step, 1)
}

// Subtract removes b from a point by point. Series present in b only come out
// negated. Results are not clamped, see Clamp.
func Subtract(a, b []model.TopologyMetrics, step int64) []model.TopologyMetrics {
	return combine(a, b, step, -1)
}

func combine(a, b []model.TopologyMetrics, step int64, sign float64) []model.TopologyMetrics {
	others := make(map[string]*model.TopologyMetrics, len(b))
	for i := range b {
		others[b[i].Key()] = &b[i]
	}

	result := make([]model.TopologyMetrics, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a))
	for i := range a {
		key := a[i].Key()
		seen[key] = true

		series := model.TopologyMetrics{Labels: cloneLabels(a[i].Labels)}
		if other, ok := others[key]; ok {
			series.Values = combinePoints(a[i].Values, other.Values, step, sign)
		} else {
			series.Values = scalePoints(a[i].Values, 1)
		}
		result = append(result, series)
	}

	for i := range b {
		key := b[i].Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, model.TopologyMetrics{
			Labels: cloneLabels(b[i].Labels),
			Values: scalePoints(b[i].Values, sign),
		})
	}
	return result
}

// combinePoints merges two ascending point lists
func combinePoints(a, b []model.DataPoint, step int64, sign float64) []model.DataPoint {
	result := make([]model.DataPoint, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		diff := a[i].Timestamp - b[j].Timestamp
		switch {
		case 2*abs(diff) < step:
			result = append(result, model.DataPoint{Timestamp: a[i].Timestamp, Value: a[i].Value + sign*b[j].Value})
			i++
			j++
		case diff < 0:
			result = append(result, a[i])
			i++
		default:
			result = append(result, model.DataPoint{Timestamp: b[j].Timestamp, Value: sign * b[j].Value})
			j++
		}
	}
	result = append(result, a[i:]...)
	for ; j < len(b); j++ {
		result = append(result, model.DataPoint{Timestamp: b[j].Timestamp, Value: sign * b[j].Value})
	}
	return result
}

func scalePoints(points []model.DataPoint, factor float64) []model.DataPoint {
	result := make([]model.DataPoint, len(points))
	for i, p := range points {
		result[i] = model.DataPoint{Timestamp: p.Timestamp, Value: factor * p.Value}
	}
	return result
}

func cloneLabels(labels map[string]string) map[string]string {
	result := make(map[string]string, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Aggregator merges backend results and computes their statistics
type Aggregator struct {
	policy      StepPolicy
	percentiles []float64
	clock       clock.PassiveClock
}

// NewAggregator creates an aggregator using the real clock to resolve relative ranges
func NewAggregator(policy StepPolicy, percentiles []float64) *Aggregator {
	return NewAggregatorWithClock(policy, percentiles, clock.RealClock{})
}

// NewAggregatorWithClock creates an aggregator with an injected clock
func NewAggregatorWithClock(policy StepPolicy, percentiles []float64, clk clock.PassiveClock) *Aggregator {
	return &Aggregator{
		policy:      policy,
		percentiles: percentiles,
		clock:       clk,
	}
}

// Step returns the step used to query and aggregate the range
func (a *Aggregator) Step(rng model.TimeRange) int64 {
	return a.policy.StepFor(rng.Seconds())
}

// Bounds resolves the range to absolute epoch seconds
func (a *Aggregator) Bounds(rng model.TimeRange) (from, to int64) {
	return rng.Resolve(a.clock.Now())
}

// WithStats returns a copy of the result with the stats of every series recomputed
func (a *Aggregator) WithStats(rng model.TimeRange, result model.TopologyResult) model.TopologyResult {
	from, to := a.Bounds(rng)
	step := a.Step(rng)

	metrics := make([]model.TopologyMetrics, len(result.Metrics))
	for i, m := range result.Metrics {
		metrics[i] = model.TopologyMetrics{
			Labels: m.Labels,
			Values: m.Values,
			Stats:  ComputeStats(m.Values, from, to, step, a.percentiles),
		}
	}
	return model.TopologyResult{Metrics: metrics, Stats: result.Stats}
}

// MergeTopologyMetricsBNF merges the results of a back-and-forth query:
// original + swapped - overlap. Overlap is optional. The number of queries
// is the sum over all inputs and the limit is reached if any input reached it.
func (a *Aggregator) MergeTopologyMetricsBNF(rng model.TimeRange, original, swapped model.TopologyResult, overlap *model.TopologyResult) model.TopologyResult {
	step := a.Step(rng)

	merged := Sum(original.Metrics, swapped.Metrics, step)
	stats := model.QueryStats{
		NumQueries:   original.Stats.NumQueries + swapped.Stats.NumQueries,
		LimitReached: original.Stats.LimitReached || swapped.Stats.LimitReached,
	}
	if overlap != nil {
		merged = Subtract(merged, overlap.Metrics, step)
		stats.NumQueries += overlap.Stats.NumQueries
		stats.LimitReached = stats.LimitReached || overlap.Stats.LimitReached
	}

	return a.WithStats(rng, model.TopologyResult{Metrics: merged, Stats: stats})
}

// Clamp replaces negative values and stats with zero. It is applied once
// results leave the aggregation layer, intermediate results may be negative.
func Clamp(result model.TopologyResult) model.TopologyResult {
	metrics := make([]model.TopologyMetrics, len(result.Metrics))
	for i, m := range result.Metrics {
		values := make([]model.DataPoint, len(m.Values))
		for j, p := range m.Values {
			values[j] = model.DataPoint{Timestamp: p.Timestamp, Value: nonNegative(p.Value)}
		}

		stats := model.SeriesStats{
			Latest: nonNegative(m.Stats.Latest),
			Avg:    nonNegative(m.Stats.Avg),
			Max:    nonNegative(m.Stats.Max),
			Total:  nonNegative(m.Stats.Total),
		}
		if m.Stats.Percentiles != nil {
			stats.Percentiles = make([]float64, len(m.Stats.Percentiles))
			for j, p := range m.Stats.Percentiles {
				stats.Percentiles[j] = nonNegative(p)
			}
		}
		metrics[i] = model.TopologyMetrics{Labels: m.Labels, Values: values, Stats: stats}
	}
	return model.TopologyResult{Metrics: metrics, Stats: result.Stats}
}

// TopK keeps the k series with the highest total. A result with more series
// than k is marked as having reached the limit. k <= 0 keeps everything.
func TopK(result model.TopologyResult, k int) model.TopologyResult {
	if k <= 0 || len(result.Metrics) <= k {
		return result
	}

	metrics := make([]model.TopologyMetrics, len(result.Metrics))
	copy(metrics, result.Metrics)
	sort.SliceStable(metrics, func(i, j int) bool {
		return metrics[i].Stats.Total > metrics[j].Stats.Total
	})

	stats := result.Stats
	stats.LimitReached = true
	return model.TopologyResult{Metrics: metrics[:k], Stats: stats}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
