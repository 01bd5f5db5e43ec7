package client

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"netflow-console/internal/filters"
	"netflow-console/internal/metrics"
	"netflow-console/internal/model"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

const matrixPayload = `{
	"resultType": "matrix",
	"result": [
		{"metric": {"SrcK8S_Namespace": "foo", "DstK8S_Namespace": "bar"}, "values": [[1000, "1"], [1015, "2.5"]]},
		{"metric": {"SrcK8S_Namespace": "bar", "DstK8S_Namespace": "foo"}, "values": [[1000, "3"]]}
	]
}`

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func mustParse(t *testing.T, s string) []filters.Group {
	t.Helper()
	groups, err := filters.Parse(s)
	require.NoError(t, err)
	return groups
}

func TestBuildPromQL(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		limit  int
		want   string
	}{
		{
			name:   "no filter",
			filter: "",
			want:   `sum by(SrcK8S_Namespace,DstK8S_Namespace)(rate(flows_bytes_total{}[60s]))`,
		},
		{
			name:   "single group",
			filter: "SrcK8S_Namespace%3Dfoo%26DstPort%21%3D80%2C443",
			want:   `sum by(SrcK8S_Namespace,DstK8S_Namespace)(rate(flows_bytes_total{SrcK8S_Namespace="foo",DstPort!~"80|443"}[60s]))`,
		},
		{
			name:   "groups are or-ed",
			filter: "SrcK8S_Namespace%3Dfoo%7CDstK8S_Namespace%3Dfoo%26SrcK8S_Namespace%21%3Dfoo",
			limit:  50,
			want: `topk(50, sum by(SrcK8S_Namespace,DstK8S_Namespace)(` +
				`rate(flows_bytes_total{SrcK8S_Namespace="foo"}[60s]) or ` +
				`rate(flows_bytes_total{DstK8S_Namespace="foo",SrcK8S_Namespace!="foo"}[60s])))`,
		},
		{
			name:   "regex values are quoted",
			filter: "SrcAddr%3D10.0.0.1%2C10.0.0.2",
			want:   `sum by(SrcK8S_Namespace,DstK8S_Namespace)(rate(flows_bytes_total{SrcAddr=~"10\\.0\\.0\\.1|10\\.0\\.0\\.2"}[60s]))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPromQL("flows_bytes_total", []string{"SrcK8S_Namespace", "DstK8S_Namespace"}, mustParse(t, tt.filter), 60, tt.limit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrometheusClientGetTopology(t *testing.T) {
	transport := httpmock.NewMockTransport()

	var gotQuery, gotStep string
	transport.RegisterResponder(http.MethodPost, "http://prometheus:9090/api/v1/query_range",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseForm(); err != nil {
				return nil, err
			}
			gotQuery = req.Form.Get("query")
			gotStep = req.Form.Get("step")
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"success","data":`+matrixPayload+`}`), nil
		})

	m := NewConsoleMetrics(nil)
	client, err := NewPrometheusClient(PrometheusOptions{
		URL:          "http://prometheus:9090",
		Metric:       "flows_bytes_total",
		GroupBy:      []string{"SrcK8S_Namespace", "DstK8S_Namespace"},
		Timeout:      time.Second,
		Policy:       metrics.DefaultStepPolicy(),
		RoundTripper: transport,
		Clock:        testingclock.NewFakePassiveClock(time.Unix(1300, 0)),
	}, testLogger(), m)
	require.NoError(t, err)

	result, err := client.GetTopology(context.Background(), "SrcK8S_Namespace%3Dfoo", model.LastSeconds(300), 2)
	require.NoError(t, err)

	assert.Equal(t, `topk(2, sum by(SrcK8S_Namespace,DstK8S_Namespace)(rate(flows_bytes_total{SrcK8S_Namespace="foo"}[60s])))`, gotQuery)
	assert.Equal(t, "15", gotStep)
	assert.Equal(t, model.QueryStats{NumQueries: 1, LimitReached: true}, result.Stats)
	require.Len(t, result.Metrics, 2)

	// sorted by label set
	assert.Equal(t, "foo", result.Metrics[0].Labels["SrcK8S_Namespace"])
	assert.Equal(t, []model.DataPoint{{Timestamp: 1000, Value: 1}, {Timestamp: 1015, Value: 2.5}}, result.Metrics[0].Values)
	assert.Equal(t, "bar", result.Metrics[1].Labels["SrcK8S_Namespace"])
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestPrometheusClientErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://prometheus:9090/api/v1/query_range",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"status":"error","errorType":"bad_data","error":"parse error"}`))

	client, err := NewPrometheusClient(PrometheusOptions{
		URL:          "http://prometheus:9090",
		Metric:       "flows_bytes_total",
		Policy:       metrics.DefaultStepPolicy(),
		RoundTripper: transport,
	}, testLogger(), NewConsoleMetrics(nil))
	require.NoError(t, err)

	_, err = client.GetTopology(context.Background(), "", model.LastSeconds(300), 0)
	assert.ErrorContains(t, err, "prometheus query failed")

	_, err = client.GetTopology(context.Background(), "SrcPort", model.LastSeconds(300), 0)
	assert.ErrorIs(t, err, filters.ErrMalformedFilter)
}

func TestConsoleClientGetTopology(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var gotQuery string
	httpmock.RegisterResponder(http.MethodGet, "http://console:9001/api/flow/metrics",
		func(req *http.Request) (*http.Response, error) {
			gotQuery = req.URL.RawQuery
			return httpmock.NewStringResponse(http.StatusOK,
				`{"resultType":"matrix","result":[{"metric":{"SrcK8S_Namespace":"foo"},"values":[[1000,"4"]]}],"stats":{"numQueries":2}}`), nil
		})

	client := NewConsoleClient("http://console:9001/", time.Second, testLogger(), NewConsoleMetrics(nil))

	result, err := client.GetTopology(context.Background(), "SrcK8S_Namespace%3Dfoo", model.Between(1000, 1300), 50)
	require.NoError(t, err)

	assert.Equal(t, "filters=SrcK8S_Namespace%3Dfoo&endTime=1300&limit=50&startTime=1000", gotQuery)
	assert.Equal(t, 2, result.Stats.NumQueries)
	require.Len(t, result.Metrics, 1)
	assert.Equal(t, 4.0, result.Metrics[0].Values[0].Value)

	_, err = client.GetTopology(context.Background(), "", model.LastSeconds(300), 0)
	require.NoError(t, err)
	assert.Equal(t, "filters=&timeRange=300", gotQuery)
}

func TestConsoleClientErrors(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := NewConsoleClient("http://console:9001", time.Second, testLogger(), NewConsoleMetrics(nil))

	httpmock.RegisterResponder(http.MethodGet, "http://console:9001/api/flow/metrics",
		httpmock.NewStringResponder(http.StatusInternalServerError, "backend down"))
	_, err := client.GetTopology(context.Background(), "", model.LastSeconds(300), 0)
	assert.ErrorContains(t, err, "console backend returned 500: backend down")

	httpmock.RegisterResponder(http.MethodGet, "http://console:9001/api/flow/metrics",
		httpmock.NewStringResponder(http.StatusOK, `{"resultType":"vector","result":[]}`))
	_, err = client.GetTopology(context.Background(), "", model.LastSeconds(300), 0)
	assert.ErrorContains(t, err, "unexpected console backend result type vector")

	httpmock.RegisterResponder(http.MethodGet, "http://console:9001/api/flow/metrics",
		httpmock.NewStringResponder(http.StatusOK, `not json`))
	_, err = client.GetTopology(context.Background(), "", model.LastSeconds(300), 0)
	assert.ErrorContains(t, err, "failed to decode")
}
