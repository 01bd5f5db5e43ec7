package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidRange is returned when a time range cannot be used for a query
var ErrInvalidRange = errors.New("invalid time range")

// TimeRange is either an absolute [From, To] window in epoch seconds
// or a "last N seconds" shorthand ending now
type TimeRange struct {
	From int64 `json:"from,omitempty" yaml:"from,omitempty"`
	To   int64 `json:"to,omitempty" yaml:"to,omitempty"`
	Last int64 `json:"last,omitempty" yaml:"last,omitempty"`
}

// LastSeconds creates a relative range ending now
func LastSeconds(seconds int64) TimeRange {
	return TimeRange{Last: seconds}
}

// Between creates an absolute range
func Between(from, to int64) TimeRange {
	return TimeRange{From: from, To: to}
}

// IsRelative reports whether the range is expressed as a duration shorthand
func (r TimeRange) IsRelative() bool {
	return r.Last > 0
}

// Seconds returns the span of the range
func (r TimeRange) Seconds() int64 {
	if r.IsRelative() {
		return r.Last
	}
	return r.To - r.From
}

// Resolve converts the range into absolute bounds using now for relative ranges
func (r TimeRange) Resolve(now time.Time) (from, to int64) {
	if r.IsRelative() {
		to = now.Unix()
		return to - r.Last, to
	}
	return r.From, r.To
}

// Validate rejects empty or inverted ranges
func (r TimeRange) Validate() error {
	if r.IsRelative() {
		return nil
	}
	if r.Last < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidRange, r.Last)
	}
	if r.To <= r.From {
		return fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

func (r TimeRange) String() string {
	if r.IsRelative() {
		return fmt.Sprintf("last %ds", r.Last)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// DataPoint is a single (timestamp, value) sample, timestamp in seconds
type DataPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// SeriesStats holds the summary statistics displayed for a series
type SeriesStats struct {
	Latest      float64   `json:"latest"`
	Avg         float64   `json:"avg"`
	Max         float64   `json:"max"`
	Total       float64   `json:"total"`
	Percentiles []float64 `json:"percentiles,omitempty"`
}

// TopologyMetrics is one labelled time series returned by a metrics backend
type TopologyMetrics struct {
	Labels map[string]string `json:"labels"`
	Values []DataPoint       `json:"values"`
	Stats  SeriesStats       `json:"stats"`
}

// Key returns a canonical identity for the series built from its label set
func (m *TopologyMetrics) Key() string {
	return LabelsKey(m.Labels)
}

// LabelsKey builds a deterministic string from a label set
func LabelsKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}
	return sb.String()
}

// QueryStats is accounting metadata for one or several backend calls
type QueryStats struct {
	NumQueries   int  `json:"numQueries"`
	LimitReached bool `json:"limitReached"`
}

// TopologyResult is the payload exchanged with metrics backends and returned to clients
type TopologyResult struct {
	Metrics []TopologyMetrics `json:"metrics"`
	Stats   QueryStats        `json:"stats"`
}
