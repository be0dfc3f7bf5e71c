package telemetry

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindBool
	KindNumber
)

// String returns the kind label.
func (k ValueKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	default:
		return "string"
	}
}

// Value is a telemetry or attribute value normalized from the upstream payload.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Number float64
	Text   string
}

// StringValue wraps text without casting.
func StringValue(text string) Value { return Value{Kind: KindString, Text: text} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// Cast converts a raw upstream string: "true"/"false" become booleans,
// numeric text becomes a number, anything else stays a string.
// The literal string "true" cannot be told apart from boolean true afterwards.
func Cast(raw string) Value {
	switch raw {
	case "true":
		return BoolValue(true)
	case "false":
		return BoolValue(false)
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StringValue(raw)
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return StringValue(raw)
	}
	return NumberValue(n)
}

// CastJSON decodes a raw JSON scalar. Strings go through Cast, typed JSON
// numbers and booleans keep their type, null becomes an empty string.
func CastJSON(raw json.RawMessage) (Value, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return StringValue(""), nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return Cast(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case '{', '[':
		return StringValue(trimmed), nil
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return Value{}, errors.New("telemetry: invalid scalar value")
	}
	return NumberValue(n), nil
}

// Float64 returns the numeric value when the kind is a number.
func (v Value) Float64() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

// String renders the value as text.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

// Interface returns the value as a plain Go scalar.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number
	default:
		return v.Text
	}
}

// MarshalJSON emits the scalar in its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts any JSON scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := CastJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
