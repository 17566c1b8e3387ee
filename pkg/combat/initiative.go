package combat

import (
	"cmp"
	"slices"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Audit keys recorded on turn events.
const (
	FieldPreviousCharacterID = "previousCharacterId"
	FieldCurrentCharacterID  = "currentCharacterId"
	FieldRound               = "round"
	FieldWrapped             = "wrapped"
	FieldTurnOrder           = "turnOrder"
)

func initiativeRoll(tx *Tx) error {
	s := tx.State
	id := tx.Character()
	value, _ := tx.Payload.Fields.Int("initiativeValue")
	name, _ := tx.Payload.Fields.String("characterName")
	if name == "" {
		if c, ok := s.Character(id); ok {
			name = c.Name
		}
	}

	if !s.Combat.IsActive {
		s.Combat = CombatState{IsActive: true, CurrentRound: 1}
		s.Initiative = s.Initiative[:0]
	}

	i := slices.IndexFunc(s.Initiative, func(e InitiativeEntry) bool {
		return sameCharacter(e.CharacterID, id)
	})
	if i >= 0 {
		s.Initiative[i].InitiativeValue = value
		if name != "" {
			s.Initiative[i].CharacterName = name
		}
	} else {
		s.Initiative = append(s.Initiative, InitiativeEntry{
			CharacterID:     id,
			CharacterName:   name,
			InitiativeValue: value,
		})
	}
	rankInitiative(s.Initiative)

	if s.Combat.CurrentTurnCharacterID == nil || !s.Combat.TurnsStarted {
		first := s.Initiative[0].CharacterID
		s.Combat.CurrentTurnCharacterID = &first
	}

	entry, _ := s.InitiativeEntry(id)
	tx.Record(FieldTurnOrder, entry.TurnOrder)
	tx.Record(FieldCurrentCharacterID, *s.Combat.CurrentTurnCharacterID)
	tx.Record(FieldRound, s.Combat.CurrentRound)
	return nil
}

// rankInitiative sorts entries by value then character id, both descending,
// and assigns dense turn orders starting at 1.
func rankInitiative(entries []InitiativeEntry) {
	slices.SortStableFunc(entries, func(a, b InitiativeEntry) int {
		if c := cmp.Compare(b.InitiativeValue, a.InitiativeValue); c != 0 {
			return c
		}
		return b.CharacterID.Compare(a.CharacterID)
	})
	for i := range entries {
		entries[i].TurnOrder = i + 1
	}
}

func turnAdvance(tx *Tx) error {
	s := tx.State
	if !s.Combat.IsActive {
		return tx.Reject(ErrCombatNotActive)
	}
	if s.Combat.CurrentTurnCharacterID == nil || len(s.Initiative) == 0 {
		return tx.Reject(ErrNoCurrentTurn)
	}

	if prior, ok := recentTurnAdvance(tx); ok {
		tx.ReturnPrior(prior)
		return nil
	}

	prev := *s.Combat.CurrentTurnCharacterID
	next := s.Initiative[0]
	wrapped := false
	if cur, ok := s.InitiativeEntry(prev); ok {
		// Orders are dense, so the follower of rank n sits at index n.
		if cur.TurnOrder < len(s.Initiative) {
			next = s.Initiative[cur.TurnOrder]
		} else {
			wrapped = true
			s.Combat.CurrentRound++
		}
	}
	nextID := next.CharacterID
	s.Combat.CurrentTurnCharacterID = &nextID
	s.Combat.TurnsStarted = true

	tx.Record(FieldPreviousCharacterID, prev)
	tx.Record(FieldCurrentCharacterID, nextID)
	tx.Record(FieldRound, s.Combat.CurrentRound)
	tx.Record(FieldWrapped, wrapped)
	tx.Record(FieldTurnOrder, next.TurnOrder)
	return nil
}

// recentTurnAdvance finds a turn advance in the bounded tail whose timestamp
// falls within the dedup window of now. The tail is oldest first.
func recentTurnAdvance(tx *Tx) (event.Event, bool) {
	window, lookback := tx.Policy.DedupWindow, tx.Policy.DedupLookback
	if window <= 0 || lookback <= 0 {
		return event.Event{}, false
	}
	tail := tx.Tail
	if len(tail) > lookback {
		tail = tail[len(tail)-lookback:]
	}
	for i := len(tail) - 1; i >= 0; i-- {
		e := tail[i]
		if e.Type != event.TypeTurnAdvance {
			continue
		}
		d := tx.Now.Sub(e.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return e, true
		}
	}
	return event.Event{}, false
}

func roundStart(tx *Tx) error {
	s := tx.State
	if n, ok := tx.Payload.Fields.Int("roundNumber"); ok {
		s.Combat.CurrentRound = n
	} else {
		s.Combat.CurrentRound++
	}
	if s.Combat.CurrentTurnCharacterID != nil {
		tx.Record(FieldPreviousCharacterID, *s.Combat.CurrentTurnCharacterID)
	}
	if len(s.Initiative) > 0 {
		first := s.Initiative[0]
		s.Combat.CurrentTurnCharacterID = &first.CharacterID
		s.Combat.TurnsStarted = true
		tx.Record(FieldCurrentCharacterID, first.CharacterID)
		tx.Record(FieldTurnOrder, first.TurnOrder)
	}
	tx.Record(FieldRound, s.Combat.CurrentRound)
	return nil
}

func combatEnd(tx *Tx) error {
	s := tx.State
	if s.Combat.CurrentTurnCharacterID != nil {
		tx.Record(FieldPreviousCharacterID, *s.Combat.CurrentTurnCharacterID)
	}
	tx.Record(FieldRound, s.Combat.CurrentRound)
	s.Combat.IsActive = false
	s.Combat.CurrentTurnCharacterID = nil
	s.Initiative = make([]InitiativeEntry, 0)
	return nil
}
