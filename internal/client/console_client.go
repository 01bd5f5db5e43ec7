package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"netflow-console/internal/model"

	prommodel "github.com/prometheus/common/model"
	"github.com/sirupsen/logrus"
)

const (
	consoleBackend     = "console"
	consoleMetricsPath = "/api/flow/metrics"
)

// ConsoleClient queries a console backend that evaluates filter strings itself
type ConsoleClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *ConsoleMetrics
}

// consoleResponse is the matrix payload returned by the console backend
type consoleResponse struct {
	ResultType string           `json:"resultType"`
	Result     prommodel.Matrix `json:"result"`
	Stats      model.QueryStats `json:"stats"`
}

// NewConsoleClient creates a client for the backend at baseURL
func NewConsoleClient(baseURL string, timeout time.Duration, logger *logrus.Logger, m *ConsoleMetrics) *ConsoleClient {
	return &ConsoleClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    m,
	}
}

func (c *ConsoleClient) Name() string {
	return consoleBackend
}

// GetTopology fetches the metrics matching an encoded filter string
func (c *ConsoleClient) GetTopology(ctx context.Context, filter string, rng model.TimeRange, limit int) (model.TopologyResult, error) {
	endpoint := c.metricsURL(filter, rng, limit)
	c.logger.Debugf("Console backend request: %s", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.TopologyResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordError("request_failed")
		return model.TopologyResult{}, fmt.Errorf("console backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.recordError("status_" + strconv.Itoa(resp.StatusCode))
		return model.TopologyResult{}, fmt.Errorf("console backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload consoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.recordError("decode_failed")
		return model.TopologyResult{}, fmt.Errorf("failed to decode console backend response: %w", err)
	}
	if payload.ResultType != "" && payload.ResultType != prommodel.ValMatrix.String() {
		c.recordError("unexpected_result")
		return model.TopologyResult{}, fmt.Errorf("unexpected console backend result type %s", payload.ResultType)
	}

	stats := payload.Stats
	if stats.NumQueries == 0 {
		stats.NumQueries = 1
	}
	if c.metrics != nil {
		c.metrics.RecordQuery(consoleBackend, time.Since(start).Seconds(), len(payload.Result))
	}
	return model.TopologyResult{Metrics: matrixToMetrics(payload.Result), Stats: stats}, nil
}

// metricsURL keeps the filter string as is: it is already percent-encoded
func (c *ConsoleClient) metricsURL(filter string, rng model.TimeRange, limit int) string {
	params := url.Values{}
	if rng.IsRelative() {
		params.Set("timeRange", strconv.FormatInt(rng.Last, 10))
	} else {
		params.Set("startTime", strconv.FormatInt(rng.From, 10))
		params.Set("endTime", strconv.FormatInt(rng.To, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return c.baseURL + consoleMetricsPath + "?filters=" + filter + "&" + params.Encode()
}

func (c *ConsoleClient) recordError(reason string) {
	if c.metrics != nil {
		c.metrics.RecordQueryError(consoleBackend, reason)
	}
}
