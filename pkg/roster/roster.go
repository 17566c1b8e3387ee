// Package roster loads session rosters from YAML or JSON files and turns
// them into the characters a combat session tracks.
package roster

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/jwebster45206/d20"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRoster is wrapped by every roster validation failure.
var ErrInvalidRoster = errors.New("invalid roster")

// Stats5e represents the six core D&D 5e ability scores
type Stats5e struct {
	Strength     int `yaml:"strength" json:"strength"`
	Dexterity    int `yaml:"dexterity" json:"dexterity"`
	Constitution int `yaml:"constitution" json:"constitution"`
	Intelligence int `yaml:"intelligence" json:"intelligence"`
	Wisdom       int `yaml:"wisdom" json:"wisdom"`
	Charisma     int `yaml:"charisma" json:"charisma"`
}

// ToAttributes converts Stats5e to a map for d20.Actor compatibility
func (s Stats5e) ToAttributes() map[string]int {
	return map[string]int{
		"strength":     s.Strength,
		"dexterity":    s.Dexterity,
		"constitution": s.Constitution,
		"intelligence": s.Intelligence,
		"wisdom":       s.Wisdom,
		"charisma":     s.Charisma,
	}
}

// Spec is one character as written in a roster file. ID may be an integer
// or a string. A missing CurrentHP means full health.
type Spec struct {
	ID              any            `yaml:"id" json:"id"`
	Name            string         `yaml:"name" json:"name"`
	MaxHP           int            `yaml:"max_hp" json:"max_hp"`
	CurrentHP       *int           `yaml:"current_hp,omitempty" json:"current_hp,omitempty"`
	AC              int            `yaml:"ac,omitempty" json:"ac,omitempty"`
	Stats           Stats5e        `yaml:"stats,omitempty" json:"stats,omitempty"`
	Attributes      map[string]int `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	CombatModifiers map[string]int `yaml:"combat_modifiers,omitempty" json:"combat_modifiers,omitempty"`
}

// File is the top level of a roster document.
type File struct {
	Session    string `yaml:"session,omitempty" json:"session,omitempty"`
	Characters []Spec `yaml:"characters" json:"characters"`
}

// Member is a validated roster entry with its rules actor.
type Member struct {
	Character combat.Character
	Actor     *d20.Actor
}

// Load reads a roster file. JSON is valid YAML, so both formats go through
// the same decoder.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a roster document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	return &f, nil
}

// Build validates every spec and returns the session characters in file
// order. Duplicate ids are rejected.
func (f *File) Build() ([]Member, error) {
	out := make([]Member, 0, len(f.Characters))
	seen := make(map[string]bool, len(f.Characters))
	for i, spec := range f.Characters {
		m, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("character %d: %w", i+1, err)
		}
		key := m.Character.ID.String()
		if seen[key] {
			return nil, fmt.Errorf("character %d: %w: duplicate id %q", i+1, ErrInvalidRoster, key)
		}
		seen[key] = true
		out = append(out, m)
	}
	return out, nil
}

// Roster returns just the session characters from Build.
func (f *File) Roster() ([]combat.Character, error) {
	members, err := f.Build()
	if err != nil {
		return nil, err
	}
	out := make([]combat.Character, len(members))
	for i, m := range members {
		out[i] = m.Character
	}
	return out, nil
}

// Build checks a single spec and builds its actor.
func (s Spec) Build() (Member, error) {
	if s.ID == nil {
		return Member{}, fmt.Errorf("%w: id is required", ErrInvalidRoster)
	}
	id, err := event.ParseCharacterID(s.ID)
	if err != nil {
		return Member{}, fmt.Errorf("%w: %v", ErrInvalidRoster, err)
	}
	if s.MaxHP < 1 {
		return Member{}, fmt.Errorf("%w: %s: max_hp must be at least 1", ErrInvalidRoster, id)
	}
	if s.AC < 0 {
		return Member{}, fmt.Errorf("%w: %s: ac cannot be negative", ErrInvalidRoster, id)
	}
	current := s.MaxHP
	if s.CurrentHP != nil {
		current = *s.CurrentHP
		if current < 0 || current > s.MaxHP {
			return Member{}, fmt.Errorf("%w: %s: current_hp must be between 0 and %d", ErrInvalidRoster, id, s.MaxHP)
		}
	}

	// Unset ability scores are left off the actor.
	attrs := s.Stats.ToAttributes()
	maps.DeleteFunc(attrs, func(_ string, v int) bool { return v == 0 })
	maps.Copy(attrs, s.Attributes)
	b := d20.NewActor(id.String()).
		WithHP(s.MaxHP).
		WithAC(s.AC)
	if len(attrs) > 0 {
		b = b.WithAttributes(attrs)
	}
	if len(s.CombatModifiers) > 0 {
		b = b.WithCombatModifiers(s.CombatModifiers)
	}
	actor, err := b.Build()
	if err != nil {
		return Member{}, fmt.Errorf("failed to build actor %s: %w", id, err)
	}
	if current > 0 && current != s.MaxHP {
		if err := actor.SetHP(current); err != nil {
			return Member{}, fmt.Errorf("failed to set HP for %s: %w", id, err)
		}
	}

	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = id.String()
	}
	hp := actor.HP()
	if current == 0 {
		hp = 0
	}
	return Member{
		Character: combat.Character{
			ID:        id,
			Name:      name,
			MaxHP:     actor.MaxHP(),
			CurrentHP: hp,
			AC:        actor.AC(),
		},
		Actor: actor,
	}, nil
}
