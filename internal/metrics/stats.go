package metrics

import (
	"math"
	"sort"

	"netflow-console/internal/model"
)

// DefaultPercentiles are reported for every series unless configured otherwise
var DefaultPercentiles = []float64{50, 90, 99}

// ComputeStats summarises the points of a series queried over [from, to]
// with the given step.
//
// The average divides by the number of steps in the range rather than by
// the number of returned points, so gaps count as zero. Total integrates the
// average rate over the span covered by the expected points.
func ComputeStats(points []model.DataPoint, from, to, step int64, percentiles []float64) model.SeriesStats {
	if len(points) == 0 || step <= 0 || to <= from {
		return model.SeriesStats{}
	}

	expected := (to - from) / step
	if expected < 1 {
		expected = 1
	}
	intervals := expected - 1
	if intervals < 1 {
		intervals = 1
	}

	var sum float64
	maxValue := points[0].Value
	for _, p := range points {
		sum += p.Value
		if p.Value > maxValue {
			maxValue = p.Value
		}
	}
	avg := sum / float64(expected)

	var latest float64
	last := points[len(points)-1]
	if last.Timestamp >= to-LatestTolerance(step) {
		latest = last.Value
	}

	stats := model.SeriesStats{
		Latest: round(latest),
		Avg:    round(avg),
		Max:    round(maxValue),
		Total:  math.Floor(avg * float64(intervals*step)),
	}
	if len(percentiles) > 0 {
		stats.Percentiles = computePercentiles(points, percentiles)
	}
	return stats
}

// computePercentiles uses the nearest-rank method on the returned values
func computePercentiles(points []model.DataPoint, percentiles []float64) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	sort.Float64s(values)

	result := make([]float64, len(percentiles))
	for i, p := range percentiles {
		rank := int(math.Ceil(p / 100 * float64(len(values))))
		if rank < 1 {
			rank = 1
		}
		if rank > len(values) {
			rank = len(values)
		}
		result[i] = round(values[rank-1])
	}
	return result
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
