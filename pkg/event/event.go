package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind. Registered names are lower snake_case.
type Type string

const (
	TypeInitiativeRoll  Type = "initiative_roll"
	TypeTurnAdvance     Type = "turn_advance"
	TypeRoundStart      Type = "round_start"
	TypeCombatEnd       Type = "combat_end"
	TypeDamage          Type = "damage"
	TypeHealing         Type = "healing"
	TypeConditionApply  Type = "status_condition_applied"
	TypeConditionRemove Type = "status_condition_removed"
	TypeEffectApply     Type = "buff_debuff_applied"
	TypeEffectRemove    Type = "buff_debuff_removed"
	TypeSpellCast       Type = "spell_cast"
)

// Envelope keys. Everything else in a raw payload is a type-specific field.
const (
	KeyID                = "id"
	KeyType              = "type"
	KeySessionID         = "sessionId"
	KeyCharacterID       = "characterId"
	KeyTimestamp         = "timestamp"
	KeySourceTextSegment = "sourceTextSegment"
)

// Event is an applied, immutable entry in a session's event log.
// It serializes as a flat object: envelope keys plus the type-specific fields.
type Event struct {
	ID                uuid.UUID
	Type              Type
	SessionID         string
	CharacterID       *CharacterID
	Timestamp         time.Time
	Fields            Fields
	SourceTextSegment string
}

// New stamps a validated payload with an id and timestamp.
func New(sessionID string, p Payload, now time.Time) Event {
	return Event{
		ID:                uuid.New(),
		Type:              p.Type,
		SessionID:         sessionID,
		CharacterID:       p.CharacterID,
		Timestamp:         now.UTC(),
		Fields:            p.Fields.Clone(),
		SourceTextSegment: p.SourceTextSegment,
	}
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		out[k] = v
	}
	out[KeyID] = e.ID.String()
	out[KeyType] = string(e.Type)
	out[KeySessionID] = e.SessionID
	out[KeyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	if e.CharacterID != nil {
		out[KeyCharacterID] = *e.CharacterID
	}
	if e.SourceTextSegment != "" {
		out[KeySourceTextSegment] = e.SourceTextSegment
	}
	return json.Marshal(out)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	*e = Event{Fields: make(Fields)}
	for k, v := range raw {
		switch k {
		case KeyID:
			s, _ := v.(string)
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", s, err)
			}
			e.ID = id
		case KeyType:
			s, _ := v.(string)
			e.Type = Type(s)
		case KeySessionID:
			s, _ := v.(string)
			e.SessionID = s
		case KeyTimestamp:
			s, _ := v.(string)
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("invalid event timestamp %q: %w", s, err)
			}
			e.Timestamp = ts
		case KeyCharacterID:
			if v == nil {
				continue
			}
			id, err := ParseCharacterID(v)
			if err != nil {
				return err
			}
			e.CharacterID = &id
		case KeySourceTextSegment:
			s, _ := v.(string)
			e.SourceTextSegment = s
		default:
			e.Fields[k] = normalizeNumber(v)
		}
	}
	return nil
}

// normalizeNumber turns json.Number values (at any depth) into int or float64.
func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumber(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumber(inner)
		}
		return t
	default:
		return v
	}
}
