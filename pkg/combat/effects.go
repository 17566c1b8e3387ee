package combat

import (
	"maps"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Stacking rules for buff_debuff_applied.
const (
	StackNone    = "none"
	StackStack   = "stack"
	StackReplace = "replace"
	StackHighest = "highest"
)

// Resolutions recorded on effect events.
const (
	ResolutionCreated   = "created"
	ResolutionUnchanged = "unchanged"
	ResolutionReplaced  = "replaced"
	ResolutionStacked   = "stacked"
)

// FieldResolution records how an applied effect met the existing record.
const FieldResolution = "resolution"

// FieldRemoved records whether a remove event found a live record.
const FieldRemoved = "removed"

func effectApplied(tx *Tx) error {
	id := tx.Character()
	f := tx.Payload.Fields
	name, _ := f.String("effectName")
	effectType, _ := f.String("effectType")
	mods, _ := f.IntMap("statModifications")
	rule, ok := f.String("stackingRule")
	if !ok || rule == "" {
		rule = StackReplace
	}
	source, _ := f.String("source")

	incoming := ActiveEffect{
		CharacterID:       id,
		Name:              name,
		EffectType:        effectType,
		StatModifications: mods,
		StackingRule:      rule,
		AppliedAt:         tx.Now,
		ExpiresAt:         expiry(tx.Now, f),
		Source:            source,
	}
	if incoming.StatModifications == nil {
		incoming.StatModifications = map[string]int{}
	}

	key := nameKey(id, name)
	existing, found := tx.State.Effects[key]
	next, resolution := resolveEffect(existing, found, incoming)
	if resolution != ResolutionUnchanged {
		tx.State.Effects[key] = next
	}
	tx.Record(FieldResolution, resolution)
	tx.Record("stackingRule", rule)
	return nil
}

// resolveEffect applies the incoming record's stacking rule against the live
// record for the same key.
func resolveEffect(existing ActiveEffect, found bool, incoming ActiveEffect) (ActiveEffect, string) {
	if !found {
		return incoming, ResolutionCreated
	}
	switch incoming.StackingRule {
	case StackNone:
		return existing, ResolutionUnchanged

	case StackHighest:
		// Any single stat beating its counterpart replaces the whole record,
		// including stats the incoming map does not mention.
		for stat, v := range incoming.StatModifications {
			if abs(v) > abs(existing.StatModifications[stat]) {
				incoming.Name = existing.Name
				return incoming, ResolutionReplaced
			}
		}
		return existing, ResolutionUnchanged

	case StackStack:
		merged := existing
		merged.StatModifications = maps.Clone(existing.StatModifications)
		if merged.StatModifications == nil {
			merged.StatModifications = map[string]int{}
		}
		for stat, v := range incoming.StatModifications {
			merged.StatModifications[stat] += v
		}
		if existing.ExpiresAt != nil && incoming.ExpiresAt != nil && incoming.ExpiresAt.After(*existing.ExpiresAt) {
			merged.ExpiresAt = cloneTime(incoming.ExpiresAt)
		}
		merged.StackingRule = StackStack
		return merged, ResolutionStacked

	default:
		incoming.Name = existing.Name
		return incoming, ResolutionReplaced
	}
}

func effectRemoved(tx *Tx) error {
	name, _ := tx.Payload.Fields.String("effectName")
	key := nameKey(tx.Character(), name)
	_, found := tx.State.Effects[key]
	delete(tx.State.Effects, key)
	tx.Record(FieldRemoved, found)
	return nil
}

// expiry derives expiresAt from an optional durationMinutes field.
func expiry(now time.Time, f event.Fields) *time.Time {
	n, ok := f.Int("durationMinutes")
	if !ok || n <= 0 {
		return nil
	}
	t := now.Add(time.Duration(n) * time.Minute)
	return &t
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
