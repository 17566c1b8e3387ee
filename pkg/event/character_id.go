package event

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CharacterID is a storage-agnostic character identifier. It remembers
// whether it was supplied as an integer or a string and serializes back
// the same way.
type CharacterID struct {
	value   string
	numeric bool
}

// IntCharacterID returns a numeric identifier.
func IntCharacterID(n int) CharacterID {
	return CharacterID{value: strconv.Itoa(n), numeric: true}
}

// StringCharacterID returns a string identifier.
func StringCharacterID(s string) CharacterID {
	return CharacterID{value: s}
}

// ParseCharacterID accepts the integer or string forms found in decoded JSON.
func ParseCharacterID(v any) (CharacterID, error) {
	switch t := v.(type) {
	case CharacterID:
		return t, nil
	case int:
		return IntCharacterID(t), nil
	case int64:
		return IntCharacterID(int(t)), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return CharacterID{}, fmt.Errorf("character id must be an integer or string, got %v", t)
		}
		return IntCharacterID(int(t)), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return CharacterID{}, fmt.Errorf("character id must be an integer or string, got %s", t)
		}
		return IntCharacterID(int(n)), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return CharacterID{}, fmt.Errorf("character id cannot be empty")
		}
		return StringCharacterID(s), nil
	default:
		return CharacterID{}, fmt.Errorf("character id must be an integer or string, got %T", v)
	}
}

func (c CharacterID) String() string { return c.value }

func (c CharacterID) IsZero() bool { return c.value == "" }

func (c CharacterID) IsNumeric() bool { return c.numeric }

// Compare is a total order over canonical ids, independent of the wire
// form: integers compare numerically and sort before other ids, which
// compare lexically. Equal numbers with different spellings fall back to
// the lexical order.
func (c CharacterID) Compare(o CharacterID) int {
	a, aErr := strconv.Atoi(c.value)
	b, bErr := strconv.Atoi(o.value)
	switch {
	case aErr == nil && bErr == nil:
		if a != b {
			return cmp.Compare(a, b)
		}
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(c.value, o.value)
}

func (c CharacterID) MarshalJSON() ([]byte, error) {
	if c.numeric {
		return []byte(c.value), nil
	}
	return json.Marshal(c.value)
}

func (c *CharacterID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	id, err := ParseCharacterID(v)
	if err != nil {
		return err
	}
	*c = id
	return nil
}
