package combat

import "github.com/jwebster45206/combat-tracker/pkg/event"

var (
	characterField = event.Field{Name: event.KeyCharacterID, Kind: event.KindCharacterID, Required: true}
	durationField  = event.Field{Name: "durationMinutes", Kind: event.KindInteger, Min: event.Bound(1)}
)

// Builtins returns the closed table of event types the tracker understands.
func Builtins() []Handler {
	return []Handler{
		{
			Description: "A character rolled initiative. Starts combat if it is not running.",
			Schema: event.Schema{Type: event.TypeInitiativeRoll, Fields: []event.Field{
				characterField,
				{Name: "initiativeValue", Kind: event.KindInteger, Required: true},
			}},
			Transition: initiativeRoll,
		},
		{
			Description: "The current character ended their turn.",
			Schema:      event.Schema{Type: event.TypeTurnAdvance},
			Transition:  turnAdvance,
		},
		{
			Description: "A new round begins, optionally at an explicit round number.",
			Schema: event.Schema{Type: event.TypeRoundStart, Fields: []event.Field{
				{Name: "roundNumber", Kind: event.KindInteger, Min: event.Bound(1)},
			}},
			Transition: roundStart,
		},
		{
			Description: "Combat is over. Clears the initiative order.",
			Schema:      event.Schema{Type: event.TypeCombatEnd},
			Transition:  combatEnd,
		},
		{
			Description: "A character took damage.",
			Schema: event.Schema{Type: event.TypeDamage, Fields: []event.Field{
				characterField,
				{Name: "amount", Kind: event.KindInteger, Required: true, Min: event.Bound(1)},
				{Name: "damageType", Kind: event.KindString},
			}},
			Transition: damage,
		},
		{
			Description: "A character regained hit points.",
			Schema: event.Schema{Type: event.TypeHealing, Fields: []event.Field{
				characterField,
				{Name: "amount", Kind: event.KindInteger, Required: true, Min: event.Bound(1)},
			}},
			Transition: healing,
		},
		{
			Description: "A status condition such as prone or poisoned was applied.",
			Schema: event.Schema{Type: event.TypeConditionApply, Fields: []event.Field{
				characterField,
				{Name: "conditionName", Kind: event.KindString, Required: true},
				durationField,
			}},
			Transition: conditionApplied,
		},
		{
			Description: "A status condition ended.",
			Schema: event.Schema{Type: event.TypeConditionRemove, Fields: []event.Field{
				characterField,
				{Name: "conditionName", Kind: event.KindString, Required: true},
			}},
			Transition: conditionRemoved,
		},
		{
			Description: "A buff or debuff with stat modifiers was applied.",
			Schema: event.Schema{Type: event.TypeEffectApply, Fields: []event.Field{
				characterField,
				{Name: "effectName", Kind: event.KindString, Required: true},
				{Name: "effectType", Kind: event.KindEnum, Required: true, Enum: []string{"buff", "debuff"}},
				{Name: "statModifications", Kind: event.KindIntMap, Required: true},
				{Name: "stackingRule", Kind: event.KindEnum, Enum: []string{StackNone, StackStack, StackReplace, StackHighest}, Default: StackReplace},
				durationField,
				{Name: "source", Kind: event.KindString},
			}},
			Transition: effectApplied,
		},
		{
			Description: "A buff or debuff ended.",
			Schema: event.Schema{Type: event.TypeEffectRemove, Fields: []event.Field{
				characterField,
				{Name: "effectName", Kind: event.KindString, Required: true},
			}},
			Transition: effectRemoved,
		},
		{
			Description: "A character cast a spell. Levels 1 to 9 spend a slot.",
			Schema: event.Schema{Type: event.TypeSpellCast, Fields: []event.Field{
				characterField,
				{Name: "spellName", Kind: event.KindString, Required: true},
				{Name: "spellLevel", Kind: event.KindInteger, Required: true, Min: event.Bound(0), Max: event.Bound(9)},
			}},
			Transition: spellCast,
		},
	}
}
