package combat

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lookup(t *testing.T) {
	reg := DefaultRegistry()
	tests := []struct {
		name    string
		in      string
		want    event.Type
		wantErr error
	}{
		{"exact", "damage", event.TypeDamage, nil},
		{"case insensitive", "Turn_Advance", event.TypeTurnAdvance, nil},
		{"padded", "  spell_cast ", event.TypeSpellCast, nil},
		{"unknown", "teleport", "", event.ErrUnknownType},
		{"empty", "", "", event.ErrTypeRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := reg.Lookup(tt.in)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.True(t, errors.Is(err, event.ErrValidation), "lookup failures are skippable")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Name())
		})
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	noop := func(*Tx) error { return nil }
	_, err := NewRegistry(
		Handler{Schema: event.Schema{Type: "ping"}, Transition: noop},
		Handler{Schema: event.Schema{Type: "PING"}, Transition: noop},
	)
	assert.Error(t, err)

	_, err = NewRegistry(Handler{Schema: event.Schema{Type: "ping"}})
	assert.Error(t, err, "handler without transition")
}

func TestRegistry_Types(t *testing.T) {
	types := DefaultRegistry().Types()
	assert.Len(t, types, 11)
	assert.Contains(t, types, event.TypeEffectApply)
	assert.True(t, slices.IsSorted(types))
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	reg := DefaultRegistry()
	state := NewProjection("s1", []Character{pc(1, "Ilsa", 30)})
	h, p, err := reg.Resolve(map[string]any{"type": "damage", "characterId": 1, "amount": 5}, event.OriginAPI)
	require.NoError(t, err)

	out, err := h.Apply("s1", p, state, nil, t0, DefaultPolicy())
	require.NoError(t, err)

	before, _ := state.Character(event.IntCharacterID(1))
	after, _ := out.Projection.Character(event.IntCharacterID(1))
	assert.Equal(t, 30, before.CurrentHP)
	assert.Equal(t, 25, after.CurrentHP)
	assert.Equal(t, t0, out.Event.Timestamp)
	assert.Equal(t, t0, out.Projection.UpdatedAt)
	_, leaked := p.Fields[FieldCurrentHP]
	assert.False(t, leaked, "audit fields stay off the payload")
}

// The worked example: damage, healing, two initiative rolls, two advances.
func TestScenario_EndToEnd(t *testing.T) {
	c := event.IntCharacterID(1)
	d := event.IntCharacterID(2)
	s := newSession(t, pc(1, "C", 30), pc(2, "D", 25))

	s.must(map[string]any{"type": "damage", "characterId": 1, "amount": 12})
	hp, _ := s.state.Character(c)
	assert.Equal(t, 18, hp.CurrentHP)

	s.must(map[string]any{"type": "healing", "characterId": 1, "amount": 50})
	hp, _ = s.state.Character(c)
	assert.Equal(t, 30, hp.CurrentHP)

	s.must(roll(1, 15))
	s.must(roll(2, 20))
	de, _ := s.state.InitiativeEntry(d)
	ce, _ := s.state.InitiativeEntry(c)
	assert.Equal(t, 1, de.TurnOrder)
	assert.Equal(t, 2, ce.TurnOrder)
	assert.Equal(t, "2", s.current())

	s.must(advance)
	assert.Equal(t, "1", s.current())
	assert.Equal(t, 1, s.state.Combat.CurrentRound)

	s.must(advance)
	assert.Equal(t, "2", s.current())
	assert.Equal(t, 2, s.state.Combat.CurrentRound)
}

func TestReplay_MatchesLiveProjection(t *testing.T) {
	roster := []Character{pc(1, "Ilsa", 30), pc(2, "Brann", 24)}
	s := newSession(t, roster...)

	script := []map[string]any{
		roll(1, 14),
		roll(2, 17),
		{"type": "damage", "characterId": 2, "amount": 9},
		advance,
		effect("Bless", "stack", map[string]any{"atk": 1}),
		effect("Bless", "stack", map[string]any{"atk": 1, "ac": 1}),
		{"type": "status_condition_applied", "characterId": 2, "conditionName": "Prone", "durationMinutes": 1},
		{"type": "spell_cast", "characterId": 1, "spellName": "Cure Wounds", "spellLevel": 1},
		{"type": "healing", "characterId": 2, "amount": 4},
		advance,
		{"type": "status_condition_removed", "characterId": 2, "conditionName": "prone"},
		effect("Shield", "highest", map[string]any{"ac": 5}),
		{"type": "round_start"},
	}
	for _, raw := range script {
		s.must(raw)
	}

	// Log entries survive a JSON round trip before replay, as they would
	// coming back from storage.
	decoded := make([]event.Event, len(s.log))
	for i, e := range s.log {
		data, err := e.MarshalJSON()
		require.NoError(t, err)
		require.NoError(t, decoded[i].UnmarshalJSON(data))
	}

	replayed, err := Replay("s1", roster, decoded, s.reg)
	require.NoError(t, err)
	assert.Equal(t, s.state, replayed)
}

func TestReplay_UnknownType(t *testing.T) {
	bad := event.Event{Type: "teleport", Timestamp: t0}
	_, err := Replay("s1", nil, []event.Event{bad}, DefaultRegistry())
	assert.True(t, errors.Is(err, event.ErrUnknownType))
}

func TestCombatContext(t *testing.T) {
	s := newSession(t, pc(1, "Ilsa", 30), pc(2, "Brann", 24))
	s.must(roll(1, 10))
	s.must(roll(2, 18))
	s.must(map[string]any{"type": "status_condition_applied", "characterId": 1, "conditionName": "Stunned", "durationMinutes": 1})
	s.must(map[string]any{"type": "status_condition_applied", "characterId": 1, "conditionName": "Prone"})
	s.must(effect("Haste", "", map[string]any{"dex": 2}))

	ctx := CombatContext(s.state, s.now)
	assert.True(t, ctx.IsActive)
	assert.Equal(t, 1, ctx.CurrentRound)
	require.Len(t, ctx.TurnOrder, 2)
	assert.Equal(t, "2", ctx.TurnOrder[0].CharacterID.String())
	assert.Equal(t, "Brann", ctx.TurnOrder[0].CharacterName)
	require.NotNil(t, ctx.TurnOrder[0].CurrentHP)
	assert.Equal(t, 24, *ctx.TurnOrder[0].CurrentHP)
	cur, ok := ctx.Current()
	require.True(t, ok)
	assert.Equal(t, "2", cur.CharacterID.String())
	assert.Len(t, ctx.Conditions, 2)
	assert.Len(t, ctx.Effects, 1)

	later := CombatContext(s.state, s.now.Add(2*time.Minute))
	require.Len(t, later.Conditions, 1, "expired conditions are filtered")
	assert.Equal(t, "Prone", later.Conditions[0].Name)
	assert.Len(t, s.state.Conditions, 2, "the projection keeps them")
}
