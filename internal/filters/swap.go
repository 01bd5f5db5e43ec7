package filters

// Swap exchanges source and destination roles of the filters. Filters without
// a swapped counterpart are kept in AND mode, where they still constrain the
// swapped query, and dropped in OR mode, where they would only repeat a term.
func Swap(reg *Registry, filters []Filter, matchAny bool) []Filter {
	var result []Filter
	for _, f := range filters {
		if def, ok := reg.SwapOf(f.Def); ok {
			result = append(result, Filter{Def: def, Values: cloneValues(f.Values), Not: f.Not})
		} else if !matchAny {
			result = append(result, Filter{Def: f.Def, Values: cloneValues(f.Values), Not: f.Not})
		}
	}
	return result
}

// Overlap describes how the swapped query of an AND filter set relates to the original
type Overlap struct {
	// Exclusions are negated original filters to AND into the swapped query
	Exclusions []Filter `json:"exclusions,omitempty"`
	// CancelSwap is set when the swapped query selects nothing the original does not
	CancelSwap bool `json:"cancelSwap"`
}

// DetermineOverlap compares an AND filter set with its swapped version.
//
// When every original filter is implied by the swapped filters (the usual
// case being identical value sets, e.g. src_namespace=foo & dst_namespace=foo)
// the swap is cancelled. Otherwise one exclusion is produced per original
// filter the swapped query does not already satisfy. If any filter has no
// overlap support, the swapped query is kept whole.
func DetermineOverlap(original, swapped []Filter) Overlap {
	if !allOverlap(original) {
		return Overlap{}
	}

	var exclusions []Filter
	for _, f := range original {
		counterparts := byID(swapped, f.Def.ID)
		values := restrict(f.Values, counterparts)

		if f.Not {
			if len(values) == 0 {
				// swapped never reaches the excluded values
				continue
			}
			if forcesSubset(counterparts, f.Values) {
				// swapped only selects excluded values: nothing in common
				return Overlap{}
			}
			exclusions = append(exclusions, Filter{Def: f.Def, Values: values, Not: false})
			continue
		}

		if len(values) == 0 {
			// swapped and original select disjoint values: nothing in common
			return Overlap{}
		}
		if forcesSubset(counterparts, f.Values) {
			continue
		}
		exclusions = append(exclusions, Filter{Def: f.Def, Values: values, Not: true})
	}

	if len(exclusions) == 0 {
		return Overlap{CancelSwap: true}
	}
	return Overlap{Exclusions: exclusions}
}

// restrict narrows values to those the counterparts can still match
func restrict(values []string, counterparts []Filter) []string {
	result := cloneValues(values)
	for _, c := range counterparts {
		if c.Not {
			result = minus(result, c.Values)
		} else {
			result = intersect(result, c.Values)
		}
	}
	return result
}

// forcesSubset reports whether a positive counterpart only admits values from the set
func forcesSubset(counterparts []Filter, values []string) bool {
	for _, c := range counterparts {
		if !c.Not && isSubset(c.Values, values) {
			return true
		}
	}
	return false
}

func allOverlap(filters []Filter) bool {
	for _, f := range filters {
		if f.Def == nil || !f.Def.Overlap {
			return false
		}
	}
	return true
}

func byID(filters []Filter, id string) []Filter {
	var result []Filter
	for _, f := range filters {
		if f.Def.ID == id {
			result = append(result, f)
		}
	}
	return result
}

func negate(f Filter) Filter {
	return Filter{Def: f.Def, Values: cloneValues(f.Values), Not: !f.Not}
}

func cloneValues(values []string) []string {
	if values == nil {
		return nil
	}
	result := make([]string, len(values))
	copy(result, values)
	return result
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func intersect(a, b []string) []string {
	set := toSet(b)
	var result []string
	for _, v := range a {
		if _, ok := set[v]; ok {
			result = append(result, v)
		}
	}
	return result
}

func minus(a, b []string) []string {
	set := toSet(b)
	var result []string
	for _, v := range a {
		if _, ok := set[v]; !ok {
			result = append(result, v)
		}
	}
	return result
}

func isSubset(a, b []string) bool {
	set := toSet(b)
	for _, v := range a {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
