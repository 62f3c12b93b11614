package metadata

import (
	"fmt"
)

// MatchClause matches a payload field against an exact value.
type MatchClause struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// RangeClause matches a numeric payload field against bounds.
// At least one bound must be set. Missing or non-numeric fields never match.
type RangeClause struct {
	Field string   `json:"field"`
	GT    *float64 `json:"gt,omitempty"`
	GTE   *float64 `json:"gte,omitempty"`
	LT    *float64 `json:"lt,omitempty"`
	LTE   *float64 `json:"lte,omitempty"`
}

// Clause is either a match or a range condition.
type Clause struct {
	Match *MatchClause `json:"match,omitempty"`
	Range *RangeClause `json:"range,omitempty"`
}

// Filter combines clauses applied to candidate payloads before ranking.
//
//   - must: conjunction, every clause must match
//   - should: disjunction, at least MinimumShouldMatch clauses must match
//     (default 1 when should is non-empty)
//   - must_not: negated conjunction
type Filter struct {
	Must               []Clause `json:"must,omitempty"`
	Should             []Clause `json:"should,omitempty"`
	MustNot            []Clause `json:"must_not,omitempty"`
	MinimumShouldMatch *int     `json:"minimum_should_match,omitempty"`
}

// Validate checks the structural well-formedness of the filter.
func (f *Filter) Validate() error {
	for _, c := range f.Must {
		if err := c.validate(); err != nil {
			return err
		}
	}
	for _, c := range f.Should {
		if err := c.validate(); err != nil {
			return err
		}
	}
	for _, c := range f.MustNot {
		if err := c.validate(); err != nil {
			return err
		}
	}
	if f.MinimumShouldMatch != nil {
		if *f.MinimumShouldMatch < 0 {
			return fmt.Errorf("minimum_should_match must be >= 0")
		}
		if *f.MinimumShouldMatch > len(f.Should) {
			return fmt.Errorf("minimum_should_match must be <= number of should clauses")
		}
	}
	return nil
}

func (c Clause) validate() error {
	switch {
	case c.Match != nil && c.Range != nil:
		return fmt.Errorf("filter clause must not combine match and range")
	case c.Match != nil:
		if c.Match.Field == "" {
			return fmt.Errorf("filter field names must not be empty")
		}
		if c.Match.Value.Kind == KindInvalid {
			return fmt.Errorf("match clause requires a value")
		}
	case c.Range != nil:
		r := c.Range
		if r.Field == "" {
			return fmt.Errorf("filter field names must not be empty")
		}
		if r.GT == nil && r.GTE == nil && r.LT == nil && r.LTE == nil {
			return fmt.Errorf("range filter requires at least one bound")
		}
		lower := r.GTE
		if lower == nil {
			lower = r.GT
		}
		upper := r.LTE
		if upper == nil {
			upper = r.LT
		}
		if lower != nil && upper != nil && *lower > *upper {
			return fmt.Errorf("range filter lower bound must be <= upper bound")
		}
	default:
		return fmt.Errorf("filter clause requires match or range")
	}
	return nil
}

// Matches reports whether the payload satisfies the filter.
// A nil filter matches everything.
func (f *Filter) Matches(p Payload) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(p) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(p) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}

	required := 1
	if f.MinimumShouldMatch != nil {
		required = *f.MinimumShouldMatch
	}
	if required == 0 {
		return true
	}
	if required > len(f.Should) {
		return false
	}

	matched := 0
	remaining := len(f.Should)
	for _, c := range f.Should {
		if c.matches(p) {
			matched++
			if matched >= required {
				return true
			}
		}
		remaining--
		if matched+remaining < required {
			return false
		}
	}
	return false
}

func (c Clause) matches(p Payload) bool {
	switch {
	case c.Match != nil:
		actual, ok := p[c.Match.Field]
		return ok && actual.Equal(c.Match.Value)
	case c.Range != nil:
		r := c.Range
		v, ok := p[r.Field]
		if !ok {
			return false
		}
		actual, ok := v.AsFloat64()
		if !ok {
			return false
		}
		if r.GT != nil && actual <= *r.GT {
			return false
		}
		if r.GTE != nil && actual < *r.GTE {
			return false
		}
		if r.LT != nil && actual >= *r.LT {
			return false
		}
		if r.LTE != nil && actual > *r.LTE {
			return false
		}
		return true
	default:
		return false
	}
}
