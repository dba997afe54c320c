package noungraph

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/noungraph/noungraph/internal/fieldtype"
)

// ValueKind discriminates the variant held by a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt
	ValueFloat
	ValueString
	ValueArray
	ValueObject
)

// Value is the closed sum type every Noun/Verb metadata leaf is restricted
// to: null, boolean, integer, float, string, or an array/object nested over
// the same set. Only one of the typed fields is meaningful at a time,
// selected by Kind; this mirrors a tagged union via a flat struct rather
// than an interface, so a Value JSON-round-trips without a type registry.
// Its slice and map fields make it non-comparable with ==.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Array  []Value
	Object map[string]Value
}

func NullValue() Value                  { return Value{Kind: ValueNull} }
func BoolValue(b bool) Value            { return Value{Kind: ValueBool, Bool: b} }
func IntValue(i int64) Value            { return Value{Kind: ValueInt, Int: i} }
func FloatValue(f float64) Value        { return Value{Kind: ValueFloat, Float: f} }
func StringValue(s string) Value        { return Value{Kind: ValueString, Str: s} }
func ArrayValue(vs []Value) Value       { return Value{Kind: ValueArray, Array: vs} }
func ObjectValue(m map[string]Value) Value { return Value{Kind: ValueObject, Object: m} }

// MarshalJSON encodes a Value as the plain JSON value it represents (a
// bare null/bool/number/string/array/object), not as a tagged wrapper, so a
// Noun's metadata blob reads as ordinary JSON to any other tool inspecting
// the stored bytes.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueInt:
		return json.Marshal(v.Int)
	case ValueFloat:
		out, err := json.Marshal(v.Float)
		if err == nil && !bytes.ContainsAny(out, ".eE") {
			out = append(out, ".0"...) // keep an integral float distinct from an int on decode
		}
		return out, err
	case ValueString:
		return json.Marshal(v.Str)
	case ValueArray:
		return json.Marshal(v.Array)
	case ValueObject:
		return json.Marshal(v.Object)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a plain JSON value back into its Value variant,
// distinguishing integers from floats by whether the JSON number has a
// fractional or exponent part.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*v = NullValue()
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*v = BoolValue(true)
		return nil
	case bytes.Equal(trimmed, []byte("false")):
		*v = BoolValue(false)
		return nil
	}

	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []Value
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*v = ArrayValue(arr)
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]Value
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		*v = ObjectValue(obj)
		return nil
	}

	if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		*v = IntValue(i)
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return err
	}
	*v = FloatValue(f)
	return nil
}

// canonicalTerm renders a scalar Value's canonical index/sample string form.
func canonicalTerm(v Value) string {
	switch v.Kind {
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueString:
		return v.Str
	default:
		return ""
	}
}

// indexTerms converts a Value into zero or more canonical posting-list
// terms for chunkindex equality lookup. An array indexes every element's
// terms (so a multi-value field matches any one of them); an object is
// never indexed for equality, since there is no single scalar to compare
// against a filter value.
func indexTerms(v Value) []string {
	switch v.Kind {
	case ValueNull, ValueObject:
		return nil
	case ValueArray:
		var out []string
		for _, elem := range v.Array {
			out = append(out, indexTerms(elem)...)
		}
		return out
	default:
		return []string{canonicalTerm(v)}
	}
}

// fieldSample converts a Value into the fieldtype.Sample used to feed a
// field's value-based type inference.
func fieldSample(v Value) fieldtype.Sample {
	switch v.Kind {
	case ValueNull:
		return fieldtype.NullSample()
	case ValueArray:
		return fieldtype.ArraySample()
	case ValueObject:
		return fieldtype.ObjectSample()
	default:
		return fieldtype.Scalar(canonicalTerm(v))
	}
}
