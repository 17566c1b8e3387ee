package combat

import (
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
	"golang.org/x/text/cases"
)

// CombatState tracks whether combat is running and whose turn it is.
type CombatState struct {
	IsActive               bool               `json:"isActive"`
	CurrentRound           int                `json:"currentRound"`
	CurrentTurnCharacterID *event.CharacterID `json:"currentTurnCharacterId,omitempty"`
	// TurnsStarted is set by the first turn advance or round start. Until
	// then the turn follows whoever ranks first as rolls come in.
	TurnsStarted bool `json:"turnsStarted"`
}

// InitiativeEntry is one combatant's place in the turn order.
type InitiativeEntry struct {
	CharacterID     event.CharacterID `json:"characterId"`
	CharacterName   string            `json:"characterName,omitempty"`
	InitiativeValue int               `json:"initiativeValue"`
	TurnOrder       int               `json:"turnOrder"`
}

// Character is a roster member whose hit points the session tracks.
type Character struct {
	ID        event.CharacterID `json:"id"`
	Name      string            `json:"name,omitempty"`
	MaxHP     int               `json:"maxHp"`
	CurrentHP int               `json:"currentHp"`
	AC        int               `json:"ac,omitempty"`
}

// StatusCondition is a live condition such as "prone" or "poisoned".
type StatusCondition struct {
	CharacterID event.CharacterID `json:"characterId"`
	Name        string            `json:"conditionName"`
	AppliedAt   time.Time         `json:"appliedAt"`
	ExpiresAt   *time.Time        `json:"expiresAt,omitempty"`
}

// ActiveEffect is a live buff or debuff.
type ActiveEffect struct {
	CharacterID       event.CharacterID `json:"characterId"`
	Name              string            `json:"effectName"`
	EffectType        string            `json:"effectType"`
	StatModifications map[string]int    `json:"statModifications"`
	StackingRule      string            `json:"stackingRule"`
	AppliedAt         time.Time         `json:"appliedAt"`
	ExpiresAt         *time.Time        `json:"expiresAt,omitempty"`
	Source            string            `json:"source,omitempty"`
}

// SpellSlotCounter counts slots spent at one spell level.
type SpellSlotCounter struct {
	CharacterID event.CharacterID `json:"characterId"`
	SpellLevel  int               `json:"spellLevel"`
	SlotsUsed   int               `json:"slotsUsed"`
}

// Projection is the mutable current state of a session, derived from its
// event log.
type Projection struct {
	SessionID  string                      `json:"sessionId"`
	Combat     CombatState                 `json:"combat"`
	Initiative []InitiativeEntry           `json:"initiative"`
	Characters map[string]Character        `json:"characters"`
	Conditions map[string]StatusCondition  `json:"conditions"`
	Effects    map[string]ActiveEffect     `json:"effects"`
	SpellSlots map[string]SpellSlotCounter `json:"spellSlots"`
	UpdatedAt  time.Time                   `json:"updatedAt"`
}

// NewProjection returns an inactive session with the given roster.
func NewProjection(sessionID string, roster []Character) *Projection {
	p := &Projection{
		SessionID:  sessionID,
		Combat:     CombatState{CurrentRound: 1},
		Initiative: make([]InitiativeEntry, 0),
		Characters: make(map[string]Character, len(roster)),
		Conditions: make(map[string]StatusCondition),
		Effects:    make(map[string]ActiveEffect),
		SpellSlots: make(map[string]SpellSlotCounter),
	}
	for _, c := range roster {
		p.Characters[c.ID.String()] = c
	}
	return p
}

// Clone returns a deep copy that transitions may mutate freely.
func (p *Projection) Clone() *Projection {
	if p == nil {
		return nil
	}
	out := *p
	if p.Combat.CurrentTurnCharacterID != nil {
		id := *p.Combat.CurrentTurnCharacterID
		out.Combat.CurrentTurnCharacterID = &id
	}
	out.Initiative = slices.Clone(p.Initiative)
	if out.Initiative == nil {
		out.Initiative = make([]InitiativeEntry, 0)
	}
	out.Characters = maps.Clone(p.Characters)
	out.Conditions = make(map[string]StatusCondition, len(p.Conditions))
	for k, c := range p.Conditions {
		c.ExpiresAt = cloneTime(c.ExpiresAt)
		out.Conditions[k] = c
	}
	out.Effects = make(map[string]ActiveEffect, len(p.Effects))
	for k, e := range p.Effects {
		e.StatModifications = maps.Clone(e.StatModifications)
		e.ExpiresAt = cloneTime(e.ExpiresAt)
		out.Effects[k] = e
	}
	out.SpellSlots = maps.Clone(p.SpellSlots)
	out.ensureMaps()
	return &out
}

// ensureMaps initializes maps that may be nil after decoding.
func (p *Projection) ensureMaps() {
	if p.Characters == nil {
		p.Characters = make(map[string]Character)
	}
	if p.Conditions == nil {
		p.Conditions = make(map[string]StatusCondition)
	}
	if p.Effects == nil {
		p.Effects = make(map[string]ActiveEffect)
	}
	if p.SpellSlots == nil {
		p.SpellSlots = make(map[string]SpellSlotCounter)
	}
}

// Character returns the roster entry for id.
func (p *Projection) Character(id event.CharacterID) (Character, bool) {
	c, ok := p.Characters[id.String()]
	return c, ok
}

// UpsertCharacter adds or replaces a roster entry, clamping its HP.
func (p *Projection) UpsertCharacter(c Character) {
	p.ensureMaps()
	c.CurrentHP = clamp(c.CurrentHP, 0, c.MaxHP)
	p.Characters[c.ID.String()] = c
}

// Condition returns the live condition for (id, name).
func (p *Projection) Condition(id event.CharacterID, name string) (StatusCondition, bool) {
	c, ok := p.Conditions[nameKey(id, name)]
	return c, ok
}

// Effect returns the live effect for (id, name).
func (p *Projection) Effect(id event.CharacterID, name string) (ActiveEffect, bool) {
	e, ok := p.Effects[nameKey(id, name)]
	return e, ok
}

// SlotsUsed returns how many slots id has spent at level.
func (p *Projection) SlotsUsed(id event.CharacterID, level int) int {
	return p.SpellSlots[slotKey(id, level)].SlotsUsed
}

// InitiativeEntry returns the entry for id.
func (p *Projection) InitiativeEntry(id event.CharacterID) (InitiativeEntry, bool) {
	for _, e := range p.Initiative {
		if sameCharacter(e.CharacterID, id) {
			return e, true
		}
	}
	return InitiativeEntry{}, false
}

// FoldName is the case-insensitive form used to key conditions and effects.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func sameCharacter(a, b event.CharacterID) bool {
	return a.String() == b.String()
}

// nameKey escapes the id so its first "/" always ends it. Without that,
// ("a", "b/c") and ("a/b", "c") would share a key.
func nameKey(id event.CharacterID, name string) string {
	return url.PathEscape(id.String()) + "/" + FoldName(name)
}

func slotKey(id event.CharacterID, level int) string {
	return id.String() + "/" + strconv.Itoa(level)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
