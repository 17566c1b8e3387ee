package event

import (
	"slices"
	"strconv"
	"strings"
)

// Origin identifies who produced a raw payload. Optionality of some
// fields depends on it.
type Origin string

const (
	// OriginAPI is a trusted caller such as the GM console or the HTTP API.
	OriginAPI Origin = "api"
	// OriginExtractor is the transcript-analysis collaborator.
	OriginExtractor Origin = "extractor"
)

// Kind is the primitive shape a field must coerce to.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindIntMap
	KindEnum
	KindCharacterID
)

// Field declares one entry of a schema.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// OptionalFrom lists origins allowed to omit a required field.
	OptionalFrom []Origin
	Enum         []string
	Min          *int
	Max          *int
	Default      any
}

// Bound is a helper for Field.Min and Field.Max.
func Bound(n int) *int { return &n }

// Schema is the field contract of one event type.
type Schema struct {
	Type   Type
	Fields []Field
}

// Fields shared by every event type.
var commonFields = []Field{
	{Name: KeySourceTextSegment, Kind: KindString, Required: true, OptionalFrom: []Origin{OriginAPI}},
	{Name: "characterName", Kind: KindString},
}

// Validate checks raw against the schema and returns the coerced payload.
// It never mutates raw. Unknown keys are dropped.
func (s Schema) Validate(raw map[string]any, origin Origin) (Payload, error) {
	p := Payload{Type: s.Type, Fields: make(Fields)}
	if origin == "" {
		origin = OriginAPI
	}

	for _, f := range append(slices.Clone(s.Fields), commonFields...) {
		v, present := raw[f.Name]
		if present && v == nil {
			present = false
		}
		if str, ok := v.(string); present && ok && strings.TrimSpace(str) == "" {
			present = false
		}

		if !present {
			if f.Default != nil {
				p.Fields[f.Name] = f.Default
				continue
			}
			if f.Required && !slices.Contains(f.OptionalFrom, origin) {
				return Payload{}, s.reject(f.Name, "is required")
			}
			continue
		}

		coerced, err := s.coerce(f, v)
		if err != nil {
			return Payload{}, err
		}

		switch f.Name {
		case KeyCharacterID:
			id := coerced.(CharacterID)
			p.CharacterID = &id
		case KeySourceTextSegment:
			p.SourceTextSegment = coerced.(string)
		default:
			p.Fields[f.Name] = coerced
		}
	}
	return p, nil
}

func (s Schema) coerce(f Field, v any) (any, error) {
	switch f.Kind {
	case KindCharacterID:
		id, err := ParseCharacterID(v)
		if err != nil {
			return nil, s.reject(f.Name, err.Error())
		}
		return id, nil

	case KindInteger:
		n, err := coerceInt(v)
		if err != nil {
			return nil, s.reject(f.Name, err.Error())
		}
		if f.Min != nil && n < *f.Min {
			return nil, s.reject(f.Name, "must be >= "+strconv.Itoa(*f.Min))
		}
		if f.Max != nil && n > *f.Max {
			return nil, s.reject(f.Name, "must be <= "+strconv.Itoa(*f.Max))
		}
		return n, nil

	case KindIntMap:
		m, err := coerceIntMap(v)
		if err != nil {
			return nil, s.reject(f.Name, err.Error())
		}
		return m, nil

	case KindEnum:
		str, ok := v.(string)
		if !ok {
			return nil, s.reject(f.Name, "must be one of "+strings.Join(f.Enum, ", "))
		}
		norm := strings.TrimSpace(str)
		if !slices.Contains(f.Enum, norm) {
			return nil, s.reject(f.Name, strconv.Quote(str)+" is not one of "+strings.Join(f.Enum, ", "))
		}
		return norm, nil

	default:
		str, ok := v.(string)
		if !ok {
			return nil, s.reject(f.Name, "must be a string")
		}
		return strings.TrimSpace(str), nil
	}
}

func (s Schema) reject(field, reason string) error {
	return &ValidationError{Type: s.Type, Field: field, Reason: reason}
}
