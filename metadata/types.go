// Package metadata provides the typed payload model attached to points and
// the filter clauses evaluated during search.
//
// Payload values are scalars only: string, signed integer, floating point, or
// boolean. The typed representation keeps filtering fast and predictable: no
// reflection and no fmt-based stringification on the scoring path.
package metadata

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	json "github.com/goccy/go-json"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindString represents a string value.
	KindString
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindBool represents a boolean value.
	KindBool
)

// Value is a small typed scalar used for point payloads and filters.
//
// On the wire a Value is a bare JSON scalar; the typed form exists so the
// filter comparisons never re-parse JSON.
//
// NOTE: This is also used for persistence; keep it stable.
type Value struct {
	Kind Kind
	S    string
	I64  int64
	F64  float64
	B    bool
}

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// AsFloat64 returns the numeric value widened to float64.
// Only int and float kinds are numeric.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// IsNumber reports whether the value is an int or float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// MarshalJSON encodes the value as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.S)
	case KindInt:
		return []byte(strconv.FormatInt(v.I64, 10)), nil
	case KindFloat:
		if math.IsNaN(v.F64) || math.IsInf(v.F64, 0) {
			return nil, fmt.Errorf("non-finite payload value cannot be encoded")
		}
		return json.Marshal(v.F64)
	case KindBool:
		return json.Marshal(v.B)
	default:
		return nil, fmt.Errorf("invalid payload value")
	}
}

// UnmarshalJSON decodes a bare JSON scalar into a typed Value.
// Whole numbers decode as KindInt; anything with a fractional part or
// exponent outside int64 range decodes as KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case string:
		*v = String(t)
	case bool:
		*v = Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("invalid numeric payload value %q", t.String())
		}
		*v = Float(f)
	default:
		return fmt.Errorf("payload values must be scalars (string, number, or boolean)")
	}
	return nil
}

// Equal compares two values. Numeric values compare across kinds with a
// relative epsilon so an ingested 3 matches a filter 3.0.
func (v Value) Equal(other Value) bool {
	if v.IsNumber() && other.IsNumber() {
		if v.Kind == KindInt && other.Kind == KindInt {
			return v.I64 == other.I64
		}
		a, _ := v.AsFloat64()
		b, _ := other.AsFloat64()
		return approxEqual(a, b)
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.S == other.S
	case KindBool:
		return v.B == other.B
	default:
		return false
	}
}

func approxEqual(a, b float64) bool {
	if !isFinite(a) || !isFinite(b) {
		return false
	}
	scale := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1.0)
	return math.Abs(a-b) <= 2.220446049250313e-16*scale*8
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Payload maps string keys to scalar metadata values. Payloads are optional;
// an empty or nil payload is valid.
type Payload map[string]Value

// Clone creates a copy of the payload. Returns nil for empty payloads so the
// common no-payload case allocates nothing.
func (p Payload) Clone() Payload {
	if len(p) == 0 {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
