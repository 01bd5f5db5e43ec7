package filters

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFilter is returned when a filter id is not in the registry
	ErrUnknownFilter = errors.New("unknown filter")
	// ErrMalformedFilter is returned for filter strings that cannot be parsed
	ErrMalformedFilter = errors.New("malformed filter")
)

// MatchMode selects how filters of a set are combined
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// ParseMatchMode converts a query parameter into a match mode, defaulting to all
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(s) {
	case "", string(MatchAll):
		return MatchAll, nil
	case string(MatchAny):
		return MatchAny, nil
	}
	return "", fmt.Errorf("%w: match mode %q", ErrMalformedFilter, s)
}

// Filter is a user selection: a definition, its values and an optional negation
type Filter struct {
	Def    *Definition `json:"def"`
	Values []string    `json:"values"`
	Not    bool        `json:"not,omitempty"`
}

// Encode renders the filter with its definition encoder
func (f Filter) Encode(matchAny bool) string {
	return f.Def.Encode(f.Values, matchAny, f.Not)
}

func (f Filter) String() string {
	op := "="
	if f.Not {
		op = "!="
	}
	return f.Def.ID + op + strings.Join(f.Values, ",")
}

// FilterSet is the full user filter state for one query
type FilterSet struct {
	Filters      []Filter  `json:"filters"`
	Match        MatchMode `json:"match"`
	BackAndForth bool      `json:"backAndForth"`
}

// MatchAny reports whether filters are OR-ed
func (fs FilterSet) MatchAny() bool {
	return fs.Match == MatchAny
}

const (
	listSeparator  = ";"
	valueSeparator = ","
)

// ParseFilterList parses the console URL form "src_namespace=foo;dst_port!=80,443"
func ParseFilterList(reg *Registry, s string) ([]Filter, error) {
	var result []Filter
	if strings.TrimSpace(s) == "" {
		return result, nil
	}

	for _, item := range strings.Split(s, listSeparator) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		id, raw, not, err := splitAssignment(item)
		if err != nil {
			return nil, err
		}

		def, ok := reg.Find(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, id)
		}

		values := splitValues(raw)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: no value for %s", ErrMalformedFilter, id)
		}
		for _, v := range values {
			if strings.ContainsAny(v, andSeparator+orSeparator) {
				return nil, fmt.Errorf("%w: value %q of %s contains a predicate separator", ErrMalformedFilter, v, id)
			}
		}
		result = append(result, Filter{Def: def, Values: values, Not: not})
	}
	return result, nil
}

// FormatFilterList is the inverse of ParseFilterList
func FormatFilterList(filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, listSeparator)
}

func splitAssignment(item string) (key, value string, not bool, err error) {
	if i := strings.Index(item, "!="); i > 0 {
		return strings.TrimSpace(item[:i]), item[i+2:], true, nil
	}
	if i := strings.Index(item, "="); i > 0 {
		return strings.TrimSpace(item[:i]), item[i+1:], false, nil
	}
	return "", "", false, fmt.Errorf("%w: %q", ErrMalformedFilter, item)
}

func splitValues(raw string) []string {
	var values []string
	for _, v := range strings.Split(raw, valueSeparator) {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
