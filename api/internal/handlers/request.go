package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"netflow-console/internal/filters"
	"netflow-console/internal/model"
)

const (
	defaultRangeSeconds = 300
	defaultFlowLimit    = 100
	maxFlowLimit        = 1000
)

// parseFilterSet reads filters, match and backAndForth query parameters
func parseFilterSet(reg *filters.Registry, r *http.Request) (filters.FilterSet, error) {
	q := r.URL.Query()

	list, err := filters.ParseFilterList(reg, q.Get("filters"))
	if err != nil {
		return filters.FilterSet{}, err
	}

	match, err := filters.ParseMatchMode(q.Get("match"))
	if err != nil {
		return filters.FilterSet{}, err
	}

	backAndForth := false
	if v := q.Get("backAndForth"); v != "" {
		backAndForth, err = strconv.ParseBool(v)
		if err != nil {
			return filters.FilterSet{}, fmt.Errorf("%w: backAndForth=%q", filters.ErrMalformedFilter, v)
		}
	}

	return filters.FilterSet{Filters: list, Match: match, BackAndForth: backAndForth}, nil
}

// parseTimeRange reads either timeRange (seconds back from now) or
// startTime/endTime (epoch seconds). Defaults to the last 5 minutes.
func parseTimeRange(r *http.Request) (model.TimeRange, error) {
	q := r.URL.Query()

	if start, end := q.Get("startTime"), q.Get("endTime"); start != "" || end != "" {
		from, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return model.TimeRange{}, fmt.Errorf("%w: startTime=%q", model.ErrInvalidRange, start)
		}
		to, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return model.TimeRange{}, fmt.Errorf("%w: endTime=%q", model.ErrInvalidRange, end)
		}
		rng := model.Between(from, to)
		return rng, rng.Validate()
	}

	if v := q.Get("timeRange"); v != "" {
		seconds, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seconds <= 0 {
			return model.TimeRange{}, fmt.Errorf("%w: timeRange=%q", model.ErrInvalidRange, v)
		}
		return model.LastSeconds(seconds), nil
	}

	return model.LastSeconds(defaultRangeSeconds), nil
}

// parseLimit returns fallback for missing or invalid limits, capped at ceiling when positive
func parseLimit(r *http.Request, fallback, ceiling int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		return fallback
	}
	if ceiling > 0 && limit > ceiling {
		return ceiling
	}
	return limit
}
