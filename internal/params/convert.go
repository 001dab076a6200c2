package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/toolbox-runner/toolbox/internal/model"
)

// Convert turns loosely typed input into the Value variant required by p.
// Strings are parsed for numeric and boolean types, time.Time values are
// rendered as ISO-8601 for date-like types, and maps become structs. For array
// parameters a slice, a JSON array string, or a comma-separated string is
// accepted.
func Convert(p model.Parameter, raw any) (Value, error) {
	if v, ok := raw.(Value); ok {
		if !compatible(p, v) {
			return Value{}, mismatch(p, v.kind.String())
		}
		return v, nil
	}
	if raw == nil {
		return Value{}, fmt.Errorf("%w: %q got no value", ErrTypeMismatch, p.Name)
	}
	if p.Array {
		return convertList(p, raw)
	}
	return convertScalar(p, raw)
}

func convertList(p model.Parameter, raw any) (Value, error) {
	var items []any
	switch x := raw.(type) {
	case []any:
		items = x
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case []int:
		for _, n := range x {
			items = append(items, n)
		}
	case []int64:
		for _, n := range x {
			items = append(items, n)
		}
	case []float64:
		for _, n := range x {
			items = append(items, n)
		}
	case []bool:
		for _, b := range x {
			items = append(items, b)
		}
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "[") {
			if err := json.Unmarshal([]byte(s), &items); err != nil {
				return Value{}, fmt.Errorf("%w: %q: invalid JSON array: %v", ErrTypeMismatch, p.Name, err)
			}
			break
		}
		if s == "" {
			items = []any{}
			break
		}
		for _, part := range strings.Split(s, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	default:
		return Value{}, mismatch(p, fmt.Sprintf("%T", raw))
	}

	elem := p
	elem.Array = false
	out := make([]Value, 0, len(items))
	for i, item := range items {
		v, err := convertScalar(elem, item)
		if err != nil {
			return Value{}, fmt.Errorf("%s[%d]: %w", p.Name, i, err)
		}
		out = append(out, v)
	}
	return List(out...), nil
}

func convertScalar(p model.Parameter, raw any) (Value, error) {
	switch {
	case p.Type.IsTemporal():
		return convertTemporal(p, raw)
	case p.Type.IsStringLike():
		return convertString(p, raw)
	}

	switch p.Type {
	case model.ParamInteger:
		return convertInt(p, raw)
	case model.ParamFloat:
		return convertFloat(p, raw)
	case model.ParamBoolean:
		return convertBool(p, raw)
	case model.ParamStruct:
		return convertStruct(p, raw)
	}
	return Value{}, fmt.Errorf("%w: %q has unknown type %q", ErrTypeMismatch, p.Name, p.Type)
}

func convertString(p model.Parameter, raw any) (Value, error) {
	switch x := raw.(type) {
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case json.Number:
		return String(x.String()), nil
	case bool:
		return String(strconv.FormatBool(x)), nil
	}
	if f, ok := toFloat(raw); ok {
		return String(strconv.FormatFloat(f, 'g', -1, 64)), nil
	}
	return Value{}, mismatch(p, fmt.Sprintf("%T", raw))
}

func convertTemporal(p model.Parameter, raw any) (Value, error) {
	t, ok := raw.(time.Time)
	if !ok {
		return convertString(p, raw)
	}
	switch p.Type {
	case model.ParamDate:
		return String(t.Format(time.DateOnly)), nil
	case model.ParamTime:
		return String(t.Format(time.TimeOnly)), nil
	}
	return String(t.UTC().Format(time.RFC3339Nano)), nil
}

// Float bounds of int64. 2^63 itself is exactly representable and already
// out of range.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

func convertInt(p model.Parameter, raw any) (Value, error) {
	switch x := raw.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q: %q is not an integer", ErrTypeMismatch, p.Name, x)
		}
		return Int(n), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q: %s is not an integer", ErrTypeMismatch, p.Name, x)
		}
		return Int(n), nil
	}
	if n, ok := toInt(raw); ok {
		return Int(n), nil
	}
	if f, ok := toFloat(raw); ok {
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: %q: %v is not an integer", ErrTypeMismatch, p.Name, f)
		}
		if f < minInt64Float || f >= maxInt64Float {
			return Value{}, fmt.Errorf("%w: %q: %v is out of the integer range", ErrTypeMismatch, p.Name, f)
		}
		return Int(int64(f)), nil
	}
	return Value{}, mismatch(p, fmt.Sprintf("%T", raw))
}

func convertFloat(p model.Parameter, raw any) (Value, error) {
	switch x := raw.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q: %q is not a number", ErrTypeMismatch, p.Name, x)
		}
		return Float(f), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q: %s is not a number", ErrTypeMismatch, p.Name, x)
		}
		return Float(f), nil
	}
	if f, ok := toFloat(raw); ok {
		return Float(f), nil
	}
	return Value{}, mismatch(p, fmt.Sprintf("%T", raw))
}

func convertBool(p model.Parameter, raw any) (Value, error) {
	switch x := raw.(type) {
	case bool:
		return Bool(x), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q: %q is not a boolean", ErrTypeMismatch, p.Name, x)
		}
		return Bool(b), nil
	}
	return Value{}, mismatch(p, fmt.Sprintf("%T", raw))
}

func convertStruct(p model.Parameter, raw any) (Value, error) {
	switch x := raw.(type) {
	case map[string]any:
		return Struct(x), nil
	case string:
		var obj map[string]any
		if err := json.Unmarshal([]byte(x), &obj); err != nil {
			return Value{}, fmt.Errorf("%w: %q: invalid JSON object: %v", ErrTypeMismatch, p.Name, err)
		}
		return Struct(obj), nil
	case json.RawMessage:
		var obj map[string]any
		if err := json.Unmarshal(x, &obj); err != nil {
			return Value{}, fmt.Errorf("%w: %q: invalid JSON object: %v", ErrTypeMismatch, p.Name, err)
		}
		return Struct(obj), nil
	}
	return Value{}, mismatch(p, fmt.Sprintf("%T", raw))
}

func toInt(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if n, ok := toInt(raw); ok {
		return float64(n), true
	}
	return 0, false
}

// compatible reports whether v's kind satisfies p's declared type.
func compatible(p model.Parameter, v Value) bool {
	if p.Array {
		items, ok := v.AsList()
		if !ok {
			return false
		}
		elem := p
		elem.Array = false
		for _, item := range items {
			if !compatible(elem, item) {
				return false
			}
		}
		return true
	}
	switch {
	case p.Type.IsStringLike():
		return v.kind == KindString
	case p.Type == model.ParamInteger:
		return v.kind == KindInt
	case p.Type == model.ParamFloat:
		return v.kind == KindFloat || v.kind == KindInt
	case p.Type == model.ParamBoolean:
		return v.kind == KindBool
	case p.Type == model.ParamStruct:
		return v.kind == KindStruct
	}
	return false
}

func mismatch(p model.Parameter, got string) error {
	want := string(p.Type)
	if p.Array {
		want = "list of " + want
	}
	return fmt.Errorf("%w: %q expects %s, got %s", ErrTypeMismatch, p.Name, want, got)
}
