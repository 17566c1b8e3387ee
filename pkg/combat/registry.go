package combat

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Policy holds the tunables shared by all transitions.
type Policy struct {
	// DedupWindow is how close in time two turn advances must be to count
	// as the same utterance.
	DedupWindow time.Duration
	// DedupLookback bounds how many recent log entries are scanned.
	DedupLookback int
}

// DefaultPolicy returns a 5 second window over the last 10 events.
func DefaultPolicy() Policy {
	return Policy{DedupWindow: 5 * time.Second, DedupLookback: 10}
}

// Transition computes the next state for one event. It mutates tx.State,
// which is always a private copy, and may record audit fields.
type Transition func(tx *Tx) error

// Handler is the uniform contract for one event type.
type Handler struct {
	Schema      event.Schema
	Description string
	Transition  Transition
}

// Name returns the registered type name.
func (h Handler) Name() event.Type { return h.Schema.Type }

// Validate checks a raw payload against the handler's schema.
func (h Handler) Validate(raw map[string]any, origin event.Origin) (event.Payload, error) {
	return h.Schema.Validate(raw, origin)
}

// Outcome is the result of applying one event.
type Outcome struct {
	// Event is the log entry to append, or the prior entry when Duplicate.
	Event event.Event
	// Projection is the next state. It is nil when Duplicate.
	Projection *Projection
	// Duplicate reports that Event was already logged and nothing changed.
	Duplicate bool
}

// Apply runs the transition against a copy of state. state is not modified.
func (h Handler) Apply(sessionID string, p event.Payload, state *Projection, tail []event.Event, now time.Time, policy Policy) (Outcome, error) {
	if state == nil {
		state = NewProjection(sessionID, nil)
	}
	tx := &Tx{
		Payload: p,
		State:   state.Clone(),
		Tail:    tail,
		Now:     now.UTC(),
		Policy:  policy,
		fields:  p.Fields.Clone(),
	}
	if tx.fields == nil {
		tx.fields = make(event.Fields)
	}
	if err := h.Transition(tx); err != nil {
		return Outcome{}, err
	}
	if tx.duplicate != nil {
		return Outcome{Event: *tx.duplicate, Duplicate: true}, nil
	}

	p.Fields = tx.fields
	evt := event.New(sessionID, p, tx.Now)
	tx.State.UpdatedAt = tx.Now
	return Outcome{Event: evt, Projection: tx.State}, nil
}

// Tx is the working context of a single transition.
type Tx struct {
	Payload event.Payload
	State   *Projection
	Tail    []event.Event
	Now     time.Time
	Policy  Policy

	fields    event.Fields
	duplicate *event.Event
}

// Character returns the payload's character id. Schemas that use it mark
// it required, so it is always set when a transition asks for it.
func (tx *Tx) Character() event.CharacterID {
	if tx.Payload.CharacterID == nil {
		return event.CharacterID{}
	}
	return *tx.Payload.CharacterID
}

// Record adds a derived field to the logged event.
func (tx *Tx) Record(key string, v any) {
	tx.fields[key] = v
}

// Reject wraps err as a StateError for this event.
func (tx *Tx) Reject(err error) error {
	se := &StateError{Type: tx.Payload.Type, Err: err}
	if tx.Payload.CharacterID != nil {
		se.CharacterID = tx.Payload.CharacterID.String()
	}
	return se
}

// ReturnPrior short-circuits the transition with an already logged event.
func (tx *Tx) ReturnPrior(prior event.Event) {
	tx.duplicate = &prior
}

// Registry maps event type names to handlers. It is built once and is
// read-only afterwards, so lookups are safe from any goroutine.
type Registry struct {
	handlers map[event.Type]Handler
}

// NewRegistry builds a registry from handlers. Names must be unique.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[event.Type]Handler, len(handlers))}
	for _, h := range handlers {
		name := event.Type(strings.ToLower(strings.TrimSpace(string(h.Name()))))
		if name == "" {
			return nil, event.ErrTypeRequired
		}
		if h.Transition == nil {
			return nil, fmt.Errorf("handler %s has no transition", name)
		}
		if _, exists := r.handlers[name]; exists {
			return nil, fmt.Errorf("event type already registered: %s", name)
		}
		h.Schema.Type = name
		r.handlers[name] = h
	}
	return r, nil
}

// DefaultRegistry returns a registry holding every built-in event type.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves a type name. An exact match wins; otherwise the name is
// matched case-insensitively.
func (r *Registry) Lookup(name string) (Handler, error) {
	if h, ok := r.handlers[event.Type(name)]; ok {
		return h, nil
	}
	norm := strings.ToLower(strings.TrimSpace(name))
	if norm == "" {
		return Handler{}, &event.ValidationError{Field: event.KeyType, Reason: "is required", Err: event.ErrTypeRequired}
	}
	if h, ok := r.handlers[event.Type(norm)]; ok {
		return h, nil
	}
	return Handler{}, &event.ValidationError{Type: event.Type(name), Err: event.ErrUnknownType}
}

// Resolve reads the type from raw, looks it up and validates raw against it.
func (r *Registry) Resolve(raw map[string]any, origin event.Origin) (Handler, event.Payload, error) {
	name, _ := raw[event.KeyType].(string)
	h, err := r.Lookup(name)
	if err != nil {
		return Handler{}, event.Payload{}, err
	}
	p, err := h.Validate(raw, origin)
	if err != nil {
		return Handler{}, event.Payload{}, err
	}
	return h, p, nil
}

// Types lists the registered names in sorted order.
func (r *Registry) Types() []event.Type {
	out := make([]event.Type, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Handler returns the handler registered under an exact name.
func (r *Registry) Handler(name event.Type) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}
