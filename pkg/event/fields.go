package event

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"
)

// Fields holds the type-specific values of a payload or event. After
// validation integers are int, names are string and modifier maps are
// map[string]int; after a JSON round trip maps come back as map[string]any,
// so the accessors accept both shapes.
type Fields map[string]any

// Clone returns a copy whose modifier maps are also copied.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if m, ok := v.(map[string]int); ok {
			v = maps.Clone(m)
		}
		out[k] = v
	}
	return out
}

// Int returns the named field as an int.
func (f Fields) Int(name string) (int, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, false
	}
	n, err := coerceInt(v)
	return n, err == nil
}

// String returns the named field as a string.
func (f Fields) String(name string) (string, bool) {
	s, ok := f[name].(string)
	return s, ok
}

// Bool returns the named field as a bool.
func (f Fields) Bool(name string) (bool, bool) {
	b, ok := f[name].(bool)
	return b, ok
}

// IntMap returns the named field as a stat→modifier map.
func (f Fields) IntMap(name string) (map[string]int, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return nil, false
	}
	m, err := coerceIntMap(v)
	return m, err == nil
}

// Payload is a raw event that passed its schema.
type Payload struct {
	Type              Type
	CharacterID       *CharacterID
	Fields            Fields
	SourceTextSegment string
}

type coercionError string

func (e coercionError) Error() string { return string(e) }

func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, coercionError("must be a whole number")
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, coercionError("must be a whole number")
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, coercionError("must be an integer, got " + strconv.Quote(t))
		}
		return n, nil
	default:
		return 0, coercionError("must be an integer")
	}
}

func coerceIntMap(v any) (map[string]int, error) {
	out := make(map[string]int)
	switch t := v.(type) {
	case map[string]int:
		for k, n := range t {
			out[strings.ToLower(strings.TrimSpace(k))] = n
		}
	case map[string]any:
		for k, raw := range t {
			n, err := coerceInt(raw)
			if err != nil {
				return nil, coercionError("modifier " + strconv.Quote(k) + " " + err.Error())
			}
			out[strings.ToLower(strings.TrimSpace(k))] = n
		}
	case map[string]float64:
		for k, raw := range t {
			n, err := coerceInt(raw)
			if err != nil {
				return nil, coercionError("modifier " + strconv.Quote(k) + " " + err.Error())
			}
			out[strings.ToLower(strings.TrimSpace(k))] = n
		}
	default:
		return nil, coercionError("must be an object of stat modifiers")
	}
	delete(out, "")
	return out, nil
}
