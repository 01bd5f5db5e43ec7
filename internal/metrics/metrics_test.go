package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"netflow-console/internal/model"
)

const (
	rangeStart int64 = 1000
	rangeEnd   int64 = 1300
)

// genNsMetric builds a 300s series of 20 points, 15s apart: ten points at v1
// followed by ten points at v2
func genNsMetric(src, dst string, v1, v2 float64) model.TopologyMetrics {
	values := make([]model.DataPoint, 0, 20)
	for i := int64(0); i < 20; i++ {
		v := v1
		if i >= 10 {
			v = v2
		}
		values = append(values, model.DataPoint{Timestamp: rangeStart + i*15, Value: v})
	}
	return model.TopologyMetrics{
		Labels: map[string]string{"SrcK8S_Namespace": src, "DstK8S_Namespace": dst},
		Values: values,
	}
}

func newTestAggregator(t *testing.T, percentiles []float64) *Aggregator {
	t.Helper()
	clk := testingclock.NewFakePassiveClock(time.Unix(rangeEnd, 0))
	return NewAggregatorWithClock(DefaultStepPolicy(), percentiles, clk)
}

func TestStepFor(t *testing.T) {
	policy := DefaultStepPolicy()

	assert.Equal(t, int64(15), policy.StepFor(300))
	assert.Equal(t, int64(15), policy.StepFor(1500))
	assert.Equal(t, int64(36), policy.StepFor(3600))
	assert.Equal(t, int64(864), policy.StepFor(86400))
	assert.Equal(t, int64(15), StepPolicy{}.StepFor(300))
	assert.Equal(t, int64(60), RateInterval(15))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(model.Between(0, 300), 15))
	assert.NoError(t, Validate(model.LastSeconds(300), 15))
	assert.ErrorIs(t, Validate(model.Between(300, 300), 15), model.ErrInvalidRange)
	assert.ErrorIs(t, Validate(model.Between(300, 0), 15), model.ErrInvalidRange)
	assert.ErrorIs(t, Validate(model.Between(0, 300), 0), model.ErrInvalidRange)
}

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name     string
		points   []model.DataPoint
		from, to int64
		step     int64
		want     model.SeriesStats
	}{
		{
			name: "empty",
			from: 0, to: 300, step: 15,
			want: model.SeriesStats{},
		},
		{
			name:   "two steps",
			points: []model.DataPoint{{Timestamp: 150, Value: 10}, {Timestamp: 300, Value: 20}},
			from:   0, to: 300, step: 150,
			want: model.SeriesStats{Latest: 20, Avg: 15, Max: 20, Total: 2250},
		},
		{
			name:   "stale latest",
			points: []model.DataPoint{{Timestamp: 0, Value: 10}, {Timestamp: 150, Value: 20}},
			from:   0, to: 300, step: 15,
			want: model.SeriesStats{Latest: 0, Avg: 1.5, Max: 20, Total: 427},
		},
		{
			name:   "latest within tolerance",
			points: []model.DataPoint{{Timestamp: 225, Value: 3}},
			from:   0, to: 300, step: 15,
			want: model.SeriesStats{Latest: 3, Avg: 0.15, Max: 3, Total: 42},
		},
		{
			name:   "rounding",
			points: []model.DataPoint{{Timestamp: 0, Value: 1.0 / 3}, {Timestamp: 15, Value: 2.0 / 3}, {Timestamp: 30, Value: 1}},
			from:   0, to: 45, step: 15,
			want: model.SeriesStats{Latest: 1, Avg: 0.67, Max: 1, Total: 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStats(tt.points, tt.from, tt.to, tt.step, nil))
		})
	}
}

func TestComputeStatsReferenceSeries(t *testing.T) {
	series := genNsMetric("foo", "bar", 10, 20)

	stats := ComputeStats(series.Values, rangeStart, rangeEnd, 15, []float64{50, 90, 100})

	assert.Equal(t, 15.0, stats.Avg)
	assert.Equal(t, 20.0, stats.Max)
	assert.Equal(t, 20.0, stats.Latest)
	assert.Equal(t, 4275.0, stats.Total)
	assert.Equal(t, []float64{10, 20, 20}, stats.Percentiles)
}

func TestSum(t *testing.T) {
	labels := map[string]string{"SrcK8S_Namespace": "foo"}
	other := map[string]string{"SrcK8S_Namespace": "bar"}

	t.Run("identical timestamps", func(t *testing.T) {
		a := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 1}, {Timestamp: 15, Value: 2}}}}
		b := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 3}, {Timestamp: 15, Value: 4}}}}

		result := Sum(a, b, 15)
		require.Len(t, result, 1)
		assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: 4}, {Timestamp: 15, Value: 6}}, result[0].Values)
	})

	t.Run("disjoint timestamps", func(t *testing.T) {
		a := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 1}, {Timestamp: 30, Value: 3}}}}
		b := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 15, Value: 2}, {Timestamp: 45, Value: 4}}}}

		result := Sum(a, b, 15)
		require.Len(t, result, 1)
		assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: 1}, {Timestamp: 15, Value: 2}, {Timestamp: 30, Value: 3}, {Timestamp: 45, Value: 4}}, result[0].Values)
	})

	t.Run("timestamps within half a step", func(t *testing.T) {
		a := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 1}, {Timestamp: 15, Value: 2}}}}
		b := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 5, Value: 10}, {Timestamp: 22, Value: 20}}}}

		result := Sum(a, b, 15)
		require.Len(t, result, 1)
		assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: 11}, {Timestamp: 15, Value: 2}, {Timestamp: 22, Value: 20}}, result[0].Values)
	})

	t.Run("series union", func(t *testing.T) {
		a := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 1}}}}
		b := []model.TopologyMetrics{{Labels: other, Values: []model.DataPoint{{Timestamp: 0, Value: 2}}}}

		result := Sum(a, b, 15)
		require.Len(t, result, 2)
		assert.Equal(t, labels, result[0].Labels)
		assert.Equal(t, other, result[1].Labels)
		assert.Equal(t, 2.0, result[1].Values[0].Value)
	})

	t.Run("inputs untouched", func(t *testing.T) {
		a := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 1}}}}
		b := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 2}}}}

		result := Sum(a, b, 15)
		result[0].Values[0].Value = 100
		result[0].Labels["x"] = "y"

		assert.Equal(t, 1.0, a[0].Values[0].Value)
		assert.NotContains(t, a[0].Labels, "x")
	})
}

func TestSubtract(t *testing.T) {
	labels := map[string]string{"SrcK8S_Namespace": "foo"}
	other := map[string]string{"SrcK8S_Namespace": "bar"}

	a := []model.TopologyMetrics{{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 5}, {Timestamp: 15, Value: 1}}}}
	b := []model.TopologyMetrics{
		{Labels: labels, Values: []model.DataPoint{{Timestamp: 0, Value: 2}, {Timestamp: 15, Value: 3}}},
		{Labels: other, Values: []model.DataPoint{{Timestamp: 0, Value: 4}}},
	}

	result := Subtract(a, b, 15)
	require.Len(t, result, 2)
	assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: 3}, {Timestamp: 15, Value: -2}}, result[0].Values)
	assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: -4}}, result[1].Values)

	clamped := Clamp(model.TopologyResult{Metrics: result})
	assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: 3}, {Timestamp: 15, Value: 0}}, clamped.Metrics[0].Values)
	assert.Equal(t, []model.DataPoint{{Timestamp: 0, Value: 0}}, clamped.Metrics[1].Values)
}

func TestMergeTopologyMetricsBNF(t *testing.T) {
	agg := newTestAggregator(t, nil)
	rng := model.Between(rangeStart, rangeEnd)

	original := model.TopologyResult{
		Metrics: []model.TopologyMetrics{genNsMetric("foo", "bar", 10, 20)},
		Stats:   model.QueryStats{NumQueries: 2},
	}
	swapped := model.TopologyResult{
		Metrics: []model.TopologyMetrics{},
		Stats:   model.QueryStats{NumQueries: 1},
	}

	merged := agg.MergeTopologyMetricsBNF(rng, original, swapped, nil)
	require.Len(t, merged.Metrics, 1)
	assert.Equal(t, model.SeriesStats{Latest: 20, Avg: 15, Max: 20, Total: 4275}, merged.Metrics[0].Stats)
	assert.Equal(t, model.QueryStats{NumQueries: 3}, merged.Stats)

	overlap := model.TopologyResult{
		Metrics: []model.TopologyMetrics{genNsMetric("foo", "bar", 5, 5)},
		Stats:   model.QueryStats{NumQueries: 1, LimitReached: true},
	}
	merged = agg.MergeTopologyMetricsBNF(rng, original, swapped, &overlap)
	require.Len(t, merged.Metrics, 1)
	assert.Equal(t, 4, merged.Stats.NumQueries)
	assert.True(t, merged.Stats.LimitReached)
	assert.Equal(t, 10.0, merged.Metrics[0].Stats.Avg)
	assert.Equal(t, 15.0, merged.Metrics[0].Stats.Latest)
}

func TestMergeTopologyMetricsBNFBothDirections(t *testing.T) {
	agg := newTestAggregator(t, []float64{50})
	rng := model.LastSeconds(300)

	original := model.TopologyResult{
		Metrics: []model.TopologyMetrics{genNsMetric("foo", "bar", 10, 20)},
		Stats:   model.QueryStats{NumQueries: 1},
	}
	swapped := model.TopologyResult{
		Metrics: []model.TopologyMetrics{genNsMetric("foo", "bar", 10, 20), genNsMetric("bar", "foo", 1, 1)},
		Stats:   model.QueryStats{NumQueries: 1},
	}

	merged := agg.MergeTopologyMetricsBNF(rng, original, swapped, nil)
	require.Len(t, merged.Metrics, 2)
	assert.Equal(t, model.SeriesStats{Latest: 40, Avg: 30, Max: 40, Total: 8550, Percentiles: []float64{20}}, merged.Metrics[0].Stats)
	assert.Equal(t, 1.0, merged.Metrics[1].Stats.Avg)
	assert.Equal(t, 2, merged.Stats.NumQueries)
}

func TestWithStats(t *testing.T) {
	agg := newTestAggregator(t, nil)

	result := agg.WithStats(model.LastSeconds(300), model.TopologyResult{
		Metrics: []model.TopologyMetrics{genNsMetric("foo", "bar", 10, 20)},
		Stats:   model.QueryStats{NumQueries: 1},
	})

	assert.Equal(t, 4275.0, result.Metrics[0].Stats.Total)
	assert.Equal(t, 1, result.Stats.NumQueries)
}

func TestTopK(t *testing.T) {
	result := model.TopologyResult{
		Metrics: []model.TopologyMetrics{
			{Labels: map[string]string{"n": "a"}, Stats: model.SeriesStats{Total: 1}},
			{Labels: map[string]string{"n": "b"}, Stats: model.SeriesStats{Total: 3}},
			{Labels: map[string]string{"n": "c"}, Stats: model.SeriesStats{Total: 2}},
		},
		Stats: model.QueryStats{NumQueries: 1},
	}

	top := TopK(result, 2)
	require.Len(t, top.Metrics, 2)
	assert.Equal(t, "b", top.Metrics[0].Labels["n"])
	assert.Equal(t, "c", top.Metrics[1].Labels["n"])
	assert.True(t, top.Stats.LimitReached)
	assert.Len(t, result.Metrics, 3)

	assert.Equal(t, result, TopK(result, 3))
	assert.Equal(t, result, TopK(result, 0))
}

func TestClampStats(t *testing.T) {
	result := Clamp(model.TopologyResult{Metrics: []model.TopologyMetrics{{
		Labels: map[string]string{},
		Stats:  model.SeriesStats{Latest: -1, Avg: -2, Max: 3, Total: -4, Percentiles: []float64{-1, 2}},
	}}})

	assert.Equal(t, model.SeriesStats{Max: 3, Percentiles: []float64{0, 2}}, result.Metrics[0].Stats)
}
