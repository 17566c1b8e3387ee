package combat

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Combatant is an initiative entry joined with what the roster knows.
type Combatant struct {
	InitiativeEntry
	CurrentHP *int `json:"currentHp,omitempty"`
	MaxHP     *int `json:"maxHp,omitempty"`
	IsCurrent bool `json:"isCurrent"`
}

// Context is the read-only snapshot handed to collaborators.
type Context struct {
	SessionID              string             `json:"sessionId"`
	IsActive               bool               `json:"isActive"`
	CurrentRound           int                `json:"currentRound"`
	CurrentTurnCharacterID *event.CharacterID `json:"currentTurnCharacterId,omitempty"`
	TurnOrder              []Combatant        `json:"turnOrder"`
	Characters             []Character        `json:"characters"`
	Conditions             []StatusCondition  `json:"conditions"`
	Effects                []ActiveEffect     `json:"effects"`
	SpellSlots             []SpellSlotCounter `json:"spellSlots"`
	AsOf                   time.Time          `json:"asOf"`
}

// CombatContext summarizes p at now. Conditions and effects whose expiry has
// passed are left out; the projection itself keeps them.
func CombatContext(p *Projection, now time.Time) Context {
	ctx := Context{
		SessionID:    p.SessionID,
		IsActive:     p.Combat.IsActive,
		CurrentRound: p.Combat.CurrentRound,
		TurnOrder:    make([]Combatant, 0, len(p.Initiative)),
		Characters:   make([]Character, 0, len(p.Characters)),
		Conditions:   make([]StatusCondition, 0, len(p.Conditions)),
		Effects:      make([]ActiveEffect, 0, len(p.Effects)),
		SpellSlots:   make([]SpellSlotCounter, 0, len(p.SpellSlots)),
		AsOf:         now.UTC(),
	}
	if p.Combat.CurrentTurnCharacterID != nil {
		id := *p.Combat.CurrentTurnCharacterID
		ctx.CurrentTurnCharacterID = &id
	}

	for _, e := range p.Initiative {
		cb := Combatant{InitiativeEntry: e}
		if c, ok := p.Character(e.CharacterID); ok {
			hp, maxHP := c.CurrentHP, c.MaxHP
			cb.CurrentHP, cb.MaxHP = &hp, &maxHP
			if cb.CharacterName == "" {
				cb.CharacterName = c.Name
			}
		}
		cb.IsCurrent = ctx.CurrentTurnCharacterID != nil && sameCharacter(e.CharacterID, *ctx.CurrentTurnCharacterID)
		ctx.TurnOrder = append(ctx.TurnOrder, cb)
	}
	slices.SortFunc(ctx.TurnOrder, func(a, b Combatant) int { return cmp.Compare(a.TurnOrder, b.TurnOrder) })

	for _, c := range p.Characters {
		ctx.Characters = append(ctx.Characters, c)
	}
	slices.SortFunc(ctx.Characters, func(a, b Character) int { return a.ID.Compare(b.ID) })

	for _, c := range p.Conditions {
		if expired(c.ExpiresAt, now) {
			continue
		}
		c.ExpiresAt = cloneTime(c.ExpiresAt)
		ctx.Conditions = append(ctx.Conditions, c)
	}
	slices.SortFunc(ctx.Conditions, func(a, b StatusCondition) int {
		if c := a.CharacterID.Compare(b.CharacterID); c != 0 {
			return c
		}
		return cmp.Compare(FoldName(a.Name), FoldName(b.Name))
	})

	for _, e := range p.Effects {
		if expired(e.ExpiresAt, now) {
			continue
		}
		e = cloneEffect(e)
		ctx.Effects = append(ctx.Effects, e)
	}
	slices.SortFunc(ctx.Effects, func(a, b ActiveEffect) int {
		if c := a.CharacterID.Compare(b.CharacterID); c != 0 {
			return c
		}
		return cmp.Compare(FoldName(a.Name), FoldName(b.Name))
	})

	for _, s := range p.SpellSlots {
		ctx.SpellSlots = append(ctx.SpellSlots, s)
	}
	slices.SortFunc(ctx.SpellSlots, func(a, b SpellSlotCounter) int {
		if c := a.CharacterID.Compare(b.CharacterID); c != 0 {
			return c
		}
		return cmp.Compare(a.SpellLevel, b.SpellLevel)
	})
	return ctx
}

// Current returns the combatant holding the turn.
func (c Context) Current() (Combatant, bool) {
	for _, cb := range c.TurnOrder {
		if cb.IsCurrent {
			return cb, true
		}
	}
	return Combatant{}, false
}

func expired(at *time.Time, now time.Time) bool {
	return at != nil && !now.Before(*at)
}

func cloneEffect(e ActiveEffect) ActiveEffect {
	e.ExpiresAt = cloneTime(e.ExpiresAt)
	e.StatModifications = maps.Clone(e.StatModifications)
	return e
}
