package filters

import (
	"fmt"
	"strings"
)

// Match is one decoded field predicate of a filter string
type Match struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
	Not    bool     `json:"not,omitempty"`
}

// Matches reports whether the field value satisfies the predicate. A missing
// field only satisfies negated predicates.
func (m Match) Matches(fields map[string]string) bool {
	value, ok := fields[m.Key]
	found := false
	if ok {
		for _, v := range m.Values {
			if v == value {
				found = true
				break
			}
		}
	}
	return found != m.Not
}

// Group is an AND-ed list of matches
type Group []Match

// Matches reports whether every match of the group is satisfied
func (g Group) Matches(fields map[string]string) bool {
	for _, m := range g {
		if !m.Matches(fields) {
			return false
		}
	}
	return true
}

// Keys returns the field names referenced by the group
func (g Group) Keys() []string {
	keys := make([]string, 0, len(g))
	for _, m := range g {
		keys = append(keys, m.Key)
	}
	return keys
}

// Parse decodes a percent-encoded filter string into OR-ed groups. An empty
// string yields a single empty group, which matches everything.
func Parse(encoded string) ([]Group, error) {
	decoded, err := Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFilter, err)
	}
	if decoded == "" {
		return []Group{{}}, nil
	}

	var groups []Group
	for _, rawGroup := range strings.Split(decoded, orSeparator) {
		var group Group
		for _, rawMatch := range strings.Split(rawGroup, andSeparator) {
			if rawMatch == "" {
				continue
			}
			key, raw, not, err := splitAssignment(rawMatch)
			if err != nil {
				return nil, err
			}
			group = append(group, Match{Key: key, Values: strings.Split(raw, valueSeparator), Not: not})
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// MatchesAny reports whether the fields satisfy at least one group
func MatchesAny(groups []Group, fields map[string]string) bool {
	for _, g := range groups {
		if g.Matches(fields) {
			return true
		}
	}
	return false
}
