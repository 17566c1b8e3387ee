package combat

import (
	"fmt"
	"reflect"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Replay rebuilds a projection by applying a session's log, oldest first,
// over its starting roster. Each event is applied at its own timestamp and
// without a dedup tail, since a logged turn advance was never a duplicate.
func Replay(sessionID string, roster []Character, events []event.Event, reg *Registry) (*Projection, error) {
	state := NewProjection(sessionID, roster)
	policy := Policy{}
	for i, e := range events {
		h, ok := reg.Handler(e.Type)
		if !ok {
			return nil, fmt.Errorf("replay event %d (%s): %w", i, e.ID, event.ErrUnknownType)
		}
		p := event.Payload{
			Type:              e.Type,
			CharacterID:       e.CharacterID,
			Fields:            e.Fields,
			SourceTextSegment: e.SourceTextSegment,
		}
		out, err := h.Apply(sessionID, p, state, nil, e.Timestamp, policy)
		if err != nil {
			return nil, fmt.Errorf("replay event %d (%s): %w", i, e.ID, err)
		}
		state = out.Projection
	}
	return state, nil
}

// Equivalent reports whether two projections hold the same combat state.
// UpdatedAt is ignored since roster edits move it without logging an event.
func Equivalent(a, b *Projection) bool {
	if a == nil || b == nil {
		return a == b
	}
	x, y := a.Clone(), b.Clone()
	x.UpdatedAt, y.UpdatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(x, y)
}
