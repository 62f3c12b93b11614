package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func match(field string, v Value) Clause {
	return Clause{Match: &MatchClause{Field: field, Value: v}}
}

func TestFilterMust(t *testing.T) {
	f := &Filter{Must: []Clause{
		match("tier", String("gold")),
		match("live", Bool(true)),
	}}
	require.NoError(t, f.Validate())

	assert.True(t, f.Matches(Payload{"tier": String("gold"), "live": Bool(true)}))
	assert.False(t, f.Matches(Payload{"tier": String("gold"), "live": Bool(false)}))
	assert.False(t, f.Matches(Payload{"tier": String("silver"), "live": Bool(true)}))
	// Missing fields never match.
	assert.False(t, f.Matches(Payload{"tier": String("gold")}))
	assert.False(t, f.Matches(nil))
}

func TestFilterShouldDefaultMinimum(t *testing.T) {
	f := &Filter{Should: []Clause{
		match("tier", String("gold")),
		match("tier", String("silver")),
	}}
	require.NoError(t, f.Validate())

	assert.True(t, f.Matches(Payload{"tier": String("gold")}))
	assert.True(t, f.Matches(Payload{"tier": String("silver")}))
	assert.False(t, f.Matches(Payload{"tier": String("bronze")}))
}

func TestFilterMinimumShouldMatch(t *testing.T) {
	two := 2
	f := &Filter{
		Should: []Clause{
			match("a", Int(1)),
			match("b", Int(2)),
			match("c", Int(3)),
		},
		MinimumShouldMatch: &two,
	}
	require.NoError(t, f.Validate())

	assert.True(t, f.Matches(Payload{"a": Int(1), "b": Int(2)}))
	assert.False(t, f.Matches(Payload{"a": Int(1)}))
}

func TestFilterMustNot(t *testing.T) {
	f := &Filter{MustNot: []Clause{match("banned", Bool(true))}}
	require.NoError(t, f.Validate())

	assert.True(t, f.Matches(Payload{"banned": Bool(false)}))
	assert.True(t, f.Matches(nil))
	assert.False(t, f.Matches(Payload{"banned": Bool(true)}))
}

func TestFilterRange(t *testing.T) {
	f := &Filter{Must: []Clause{{Range: &RangeClause{Field: "score", GTE: f64(0.5), LT: f64(1.0)}}}}
	require.NoError(t, f.Validate())

	assert.True(t, f.Matches(Payload{"score": Float(0.5)}))
	assert.True(t, f.Matches(Payload{"score": Float(0.99)}))
	assert.False(t, f.Matches(Payload{"score": Float(1.0)}))
	assert.False(t, f.Matches(Payload{"score": Float(0.49)}))
	// Integers participate in numeric ranges.
	assert.False(t, f.Matches(Payload{"score": Int(2)}))
	// Non-numeric fields never match a range.
	assert.False(t, f.Matches(Payload{"score": String("0.7")}))
	assert.False(t, f.Matches(Payload{}))
}

func TestFilterValidateRejections(t *testing.T) {
	assert.Error(t, (&Filter{Must: []Clause{{}}}).Validate())
	assert.Error(t, (&Filter{Must: []Clause{{Range: &RangeClause{Field: "x"}}}}).Validate())
	assert.Error(t, (&Filter{Must: []Clause{{Range: &RangeClause{Field: "x", GTE: f64(2), LTE: f64(1)}}}}).Validate())
	assert.Error(t, (&Filter{Must: []Clause{match("", Int(1))}}).Validate())

	three := 3
	assert.Error(t, (&Filter{
		Should:             []Clause{match("a", Int(1))},
		MinimumShouldMatch: &three,
	}).Validate())
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Matches(Payload{"x": Int(1)}))
	assert.True(t, f.Matches(nil))
}
