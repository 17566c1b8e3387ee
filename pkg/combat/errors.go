package combat

import (
	"errors"
	"fmt"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

var (
	// ErrState classifies every StateError.
	ErrState = errors.New("invalid session state")
	// ErrCharacterNotInSession indicates the character is not a participant.
	ErrCharacterNotInSession = errors.New("character not in this session")
	// ErrCombatNotActive indicates a turn operation with no running combat.
	ErrCombatNotActive = errors.New("combat is not active")
	// ErrNoCurrentTurn indicates combat is running but nobody holds the turn.
	ErrNoCurrentTurn = errors.New("no current turn is set")
	// ErrRosterHPChange rejects a roster edit that would move the hit points
	// of an existing character outside the event log.
	ErrRosterHPChange = errors.New("hit points of an existing character change only through damage and healing events")
)

// StateError rejects an event that is well formed but cannot be applied to
// the current session state. It is fatal to that event and caller visible.
type StateError struct {
	Type        event.Type
	CharacterID string
	Err         error
}

func (e *StateError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("character %s: %v", e.CharacterID, e.Err)
	}
	if e.CharacterID != "" {
		return fmt.Sprintf("cannot apply %s for character %s: %v", e.Type, e.CharacterID, e.Err)
	}
	return fmt.Sprintf("cannot apply %s: %v", e.Type, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

func (e *StateError) Is(target error) bool { return target == ErrState }
