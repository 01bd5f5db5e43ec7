package filters

import (
	"net/url"
	"strings"
)

const (
	andSeparator = "&"
	orSeparator  = "|"
)

// Encode renders a filter set into a single percent-encoded predicate string
func Encode(fs FilterSet) string {
	return escape(predicate(fs.Filters, fs.MatchAny()))
}

// BuildGrouped renders the filter set and, for back-and-forth queries, appends
// the swapped branch as an OR group. In AND mode the swapped branch carries
// the overlap exclusion so that no flow is selected by both branches.
func BuildGrouped(reg *Registry, fs FilterSet) string {
	matchAny := fs.MatchAny()
	result := predicate(fs.Filters, matchAny)

	if fs.BackAndForth {
		swapped := Swap(reg, fs.Filters, matchAny)
		if len(swapped) > 0 {
			if branch := swappedBranch(fs.Filters, swapped, matchAny); branch != "" {
				result += orSeparator + branch
			}
		}
	}
	return escape(result)
}

func swappedBranch(original, swapped []Filter, matchAny bool) string {
	if matchAny {
		return predicate(swapped, true)
	}

	overlap := DetermineOverlap(original, swapped)
	if overlap.CancelSwap {
		return ""
	}

	groups := exclusionGroups(swapped, overlap.Exclusions)
	rendered := make([]string, 0, len(groups))
	for _, g := range groups {
		rendered = append(rendered, predicate(g, false))
	}
	return strings.Join(rendered, orSeparator)
}

// exclusionGroups ANDs the exclusions into the swapped filters. A single
// exclusion yields one group; several exclusions yield disjoint groups
// (swapped & ex0 | swapped & !ex0 & ex1 | ...) covering swapped minus original.
func exclusionGroups(swapped, exclusions []Filter) [][]Filter {
	if len(exclusions) == 0 {
		return [][]Filter{swapped}
	}

	groups := make([][]Filter, 0, len(exclusions))
	for i, ex := range exclusions {
		group := make([]Filter, 0, len(swapped)+i+1)
		group = append(group, swapped...)
		for _, prev := range exclusions[:i] {
			group = append(group, negate(prev))
		}
		group = append(group, ex)
		groups = append(groups, group)
	}
	return groups
}

// Plan holds the filter strings of the separate backend calls needed to
// compute back-and-forth metrics: merged = original + swapped - overlap.
type Plan struct {
	Original string `json:"original"`
	Swapped  string `json:"swapped,omitempty"`
	Overlap  string `json:"overlap,omitempty"`
}

// Queries returns the non-empty filter strings of the plan, original first
func (p Plan) Queries() []string {
	queries := []string{p.Original}
	if p.Swapped != "" {
		queries = append(queries, p.Swapped)
	}
	if p.Overlap != "" {
		queries = append(queries, p.Overlap)
	}
	return queries
}

// BuildPlan computes the 1 to 3 filter strings for a metrics query
func BuildPlan(reg *Registry, fs FilterSet) Plan {
	plan := Plan{Original: Encode(fs)}
	if !fs.BackAndForth {
		return plan
	}

	matchAny := fs.MatchAny()
	swapped := Swap(reg, fs.Filters, matchAny)
	if len(swapped) == 0 {
		return plan
	}

	var overlap Overlap
	if !matchAny {
		overlap = DetermineOverlap(fs.Filters, swapped)
		if overlap.CancelSwap {
			return plan
		}
	}
	plan.Swapped = escape(predicate(swapped, matchAny))

	if !allOverlap(fs.Filters) {
		return plan
	}
	if matchAny {
		plan.Overlap = escape(intersectAny(fs.Filters, swapped))
	} else if len(overlap.Exclusions) > 0 {
		// no exclusions means both directions select disjoint flows
		combined := make([]Filter, 0, len(fs.Filters)+len(swapped))
		combined = append(combined, fs.Filters...)
		combined = append(combined, swapped...)
		plan.Overlap = escape(predicate(combined, false))
	}
	return plan
}

// intersectAny expands (a0|a1|...) & (b0|b1|...) into OR-ed pairs
func intersectAny(original, swapped []Filter) string {
	groups := make([]string, 0, len(original)*len(swapped))
	for _, o := range original {
		for _, s := range swapped {
			groups = append(groups, predicate([]Filter{o, s}, false))
		}
	}
	return strings.Join(groups, orSeparator)
}

func predicate(filters []Filter, matchAny bool) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.Encode(matchAny))
	}
	sep := andSeparator
	if matchAny {
		sep = orSeparator
	}
	return strings.Join(parts, sep)
}

// escape percent-encodes like url.QueryEscape with spaces as %20. Unlike
// encodeURIComponent it also escapes !*'(), which decodes to the same string.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Decode reverses the percent-encoding of a predicate string
func Decode(s string) (string, error) {
	return url.QueryUnescape(s)
}
