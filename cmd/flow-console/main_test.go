package main

import (
	"testing"
	"time"

	"netflow-console/internal/filters"
	"netflow-console/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowRow(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	flow := &model.Flow{
		Time:        &ts,
		Verdict:     model.Verdict_FORWARDED,
		IP:          &model.IP{Source: "10.0.0.1", Destination: "10.0.0.2"},
		L4:          &model.L4{TCP: &model.TCP{SourcePort: 40000, DestinationPort: 443}},
		Source:      &model.Endpoint{Namespace: "foo", PodName: "api-7d9f"},
		Destination: &model.Endpoint{},
	}

	assert.Equal(t, []string{"2024-05-01T10:00:00Z", "foo/api-7d9f", "10.0.0.2", "TCP", "443", model.Verdict_FORWARDED.String()}, flowRow(flow))
	assert.Equal(t, []string{"", "", "", "", "", model.Verdict_VERDICT_UNKNOWN.String()}, flowRow(&model.Flow{}))
}

func TestLabelNames(t *testing.T) {
	series := []model.TopologyMetrics{
		{Labels: map[string]string{"SrcK8S_Namespace": "a", "DstK8S_Namespace": "b"}},
		{Labels: map[string]string{"SrcK8S_Namespace": "c", "DstK8S_Name": "d"}},
	}
	assert.Equal(t, []string{"DstK8S_Name", "DstK8S_Namespace", "SrcK8S_Namespace"}, labelNames(series))
	assert.Equal(t, []string{"", "", "3 queries"}, footer(3, "3 queries"))
}

func TestParseFilterSet(t *testing.T) {
	fs, err := parseFilterSet(filters.DefaultRegistry(), "src_namespace=foo,bar;dst_kind!=Pod", "any", true)
	require.NoError(t, err)
	assert.True(t, fs.MatchAny())
	assert.True(t, fs.BackAndForth)
	require.Len(t, fs.Filters, 2)
	assert.True(t, fs.Filters[1].Not)

	_, err = parseFilterSet(filters.DefaultRegistry(), "nope=1", "all", false)
	assert.ErrorIs(t, err, filters.ErrUnknownFilter)
}
