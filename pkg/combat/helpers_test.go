package combat

import (
	"testing"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

var t0 = time.Date(2025, 3, 14, 19, 30, 0, 0, time.UTC)

// session drives a projection the way the engine does: resolve, apply against
// the log tail, keep the result. The clock moves 10s per event unless a test
// sets it.
type session struct {
	t      *testing.T
	reg    *Registry
	state  *Projection
	log    []event.Event
	now    time.Time
	policy Policy
}

func newSession(t *testing.T, roster ...Character) *session {
	t.Helper()
	return &session{
		t:      t,
		reg:    DefaultRegistry(),
		state:  NewProjection("s1", roster),
		now:    t0,
		policy: DefaultPolicy(),
	}
}

func (s *session) apply(raw map[string]any) (Outcome, error) {
	s.t.Helper()
	h, p, err := s.reg.Resolve(raw, event.OriginAPI)
	if err != nil {
		return Outcome{}, err
	}
	out, err := h.Apply(s.state.SessionID, p, s.state, s.log, s.now, s.policy)
	if err != nil {
		return Outcome{}, err
	}
	if !out.Duplicate {
		s.state = out.Projection
		s.log = append(s.log, out.Event)
	}
	return out, nil
}

// must applies raw and advances the clock past the dedup window.
func (s *session) must(raw map[string]any) event.Event {
	s.t.Helper()
	out, err := s.apply(raw)
	if err != nil {
		s.t.Fatalf("apply %v: %v", raw["type"], err)
	}
	s.now = s.now.Add(10 * time.Second)
	return out.Event
}

func (s *session) current() string {
	if s.state.Combat.CurrentTurnCharacterID == nil {
		return ""
	}
	return s.state.Combat.CurrentTurnCharacterID.String()
}

func pc(id int, name string, hp int) Character {
	return Character{ID: event.IntCharacterID(id), Name: name, MaxHP: hp, CurrentHP: hp}
}

func roll(id any, value int) map[string]any {
	return map[string]any{"type": "initiative_roll", "characterId": id, "initiativeValue": value}
}

var advance = map[string]any{"type": "turn_advance"}
