package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// ErrSessionIDRequired rejects calls without a session.
var ErrSessionIDRequired = errors.New("session id is required")

// Publisher is told about every applied or rejected event.
type Publisher interface {
	PublishApplied(ctx context.Context, e event.Event) error
	PublishRejected(ctx context.Context, sessionID, eventType string, reason error) error
}

// Options tune an Engine. Zero values fall back to defaults.
type Options struct {
	Policy         combat.Policy
	PersistTimeout time.Duration
	Locker         Locker
	Publisher      Publisher
	Now            func() time.Time
}

// Engine validates raw events and applies them to sessions one at a time.
type Engine struct {
	store     storage.Store
	registry  *combat.Registry
	locker    Locker
	publisher Publisher
	policy    combat.Policy
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func New(store storage.Store, registry *combat.Registry, logger *slog.Logger, opts Options) *Engine {
	e := &Engine{
		store:     store,
		registry:  registry,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		policy:    opts.Policy,
		timeout:   opts.PersistTimeout,
		now:       opts.Now,
		logger:    logger,
	}
	if e.locker == nil {
		e.locker = NewLocalLocker()
	}
	if e.policy == (combat.Policy{}) {
		e.policy = combat.DefaultPolicy()
	}
	if e.timeout <= 0 {
		e.timeout = 5 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Registry returns the handler table the engine dispatches on.
func (e *Engine) Registry() *combat.Registry {
	return e.registry
}

// Result is the outcome of one payload in a batch.
type Result struct {
	Event     *event.Event `json:"event,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Skipped   bool         `json:"skipped,omitempty"`
	Err       error        `json:"-"`
}

// Submit applies one raw payload and returns the logged event. A turn
// advance absorbed by dedup returns the earlier event and changes nothing.
func (e *Engine) Submit(ctx context.Context, sessionID string, raw map[string]any, origin event.Origin) (event.Event, error) {
	res := e.submit(ctx, sessionID, raw, origin)
	if res.Err != nil {
		return event.Event{}, res.Err
	}
	return *res.Event, nil
}

// SubmitBatch applies payloads in order. Validation and state failures are
// recorded on their Result and the batch moves on; a persistence failure
// stops the batch and is returned.
func (e *Engine) SubmitBatch(ctx context.Context, sessionID string, raws []map[string]any, origin event.Origin) ([]Result, error) {
	results := make([]Result, 0, len(raws))
	for _, raw := range raws {
		res := e.submit(ctx, sessionID, raw, origin)
		results = append(results, res)
		if errors.Is(res.Err, storage.ErrPersistence) || errors.Is(res.Err, storage.ErrSessionNotFound) {
			return results, res.Err
		}
	}
	return results, nil
}

func (e *Engine) submit(ctx context.Context, sessionID string, raw map[string]any, origin event.Origin) Result {
	log := e.logger.With("session_id", sessionID)
	if strings.TrimSpace(sessionID) == "" {
		return Result{Err: ErrSessionIDRequired}
	}

	h, p, err := e.registry.Resolve(raw, origin)
	if err != nil {
		log.Warn("Skipping invalid event", "origin", origin, "error", err)
		e.rejected(ctx, sessionID, raw, err)
		return Result{Skipped: true, Err: err}
	}
	log = log.With("event_type", p.Type)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	unlock, err := e.locker.Lock(ctx, sessionID)
	if err != nil {
		log.Error("Failed to lock session", "error", err)
		return Result{Err: &storage.PersistenceError{Op: "lock", Err: err}}
	}
	defer unlock()

	state, err := e.store.LoadProjection(ctx, sessionID)
	if err != nil {
		return Result{Err: err}
	}
	tail, err := e.store.RecentEvents(ctx, sessionID, e.policy.DedupLookback)
	if err != nil {
		return Result{Err: err}
	}

	out, err := h.Apply(sessionID, p, state, tail, e.now(), e.policy)
	if err != nil {
		log.Info("Event rejected", "error", err)
		e.rejected(ctx, sessionID, raw, err)
		return Result{Err: err}
	}
	if out.Duplicate {
		log.Debug("Duplicate turn advance absorbed", "event_id", out.Event.ID)
		return Result{Event: &out.Event, Duplicate: true}
	}

	if err := e.store.Commit(ctx, out.Projection, out.Event); err != nil {
		log.Error("Failed to persist event", "error", err)
		return Result{Err: err}
	}
	log.Debug("Event applied", "event_id", out.Event.ID)

	if e.publisher != nil {
		if err := e.publisher.PublishApplied(ctx, out.Event); err != nil {
			log.Error("Failed to publish applied event", "error", err)
		}
	}
	return Result{Event: &out.Event}
}

func (e *Engine) rejected(ctx context.Context, sessionID string, raw map[string]any, reason error) {
	if e.publisher == nil {
		return
	}
	name, _ := raw[event.KeyType].(string)
	if err := e.publisher.PublishRejected(ctx, sessionID, name, reason); err != nil {
		e.logger.Error("Failed to publish rejection", "session_id", sessionID, "error", err)
	}
}

// CombatContext returns the read-only combat summary. It waits for any
// in-flight event so the answer reflects the latest applied state.
func (e *Engine) CombatContext(ctx context.Context, sessionID string) (combat.Context, error) {
	var out combat.Context
	err := e.withSession(ctx, sessionID, func(ctx context.Context, p *combat.Projection) error {
		out = combat.CombatContext(p, e.now())
		return nil
	})
	return out, err
}

// Projection returns the full current state of a session.
func (e *Engine) Projection(ctx context.Context, sessionID string) (*combat.Projection, error) {
	var out *combat.Projection
	err := e.withSession(ctx, sessionID, func(ctx context.Context, p *combat.Projection) error {
		out = p
		return nil
	})
	return out, err
}

// CreateSession starts a session with an initial roster.
func (e *Engine) CreateSession(ctx context.Context, sessionID string, roster []combat.Character) (*combat.Projection, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	p := combat.NewProjection(sessionID, nil)
	for _, c := range roster {
		p.UpsertCharacter(c)
	}
	p.UpdatedAt = e.now().UTC()
	if err := e.store.CreateSession(ctx, p); err != nil {
		return nil, err
	}
	e.logger.Info("Session created", "session_id", sessionID, "characters", len(roster))
	return p, nil
}

// AddCharacter adds a roster member or updates the name and AC of an
// existing one. Hit points of an existing member only move through logged
// events, so the seed roster keeps its original values and replay stays
// consistent.
func (e *Engine) AddCharacter(ctx context.Context, sessionID string, c combat.Character) (*combat.Projection, error) {
	var out *combat.Projection
	err := e.withSession(ctx, sessionID, func(ctx context.Context, p *combat.Projection) error {
		existing, ok := p.Character(c.ID)
		if !ok {
			p.UpsertCharacter(c)
			c, _ = p.Character(c.ID)
			p.UpdatedAt = e.now().UTC()
			if err := e.store.SaveCharacter(ctx, p, c); err != nil {
				return err
			}
			out = p
			return nil
		}

		if c.MaxHP != existing.MaxHP || min(max(c.CurrentHP, 0), c.MaxHP) != existing.CurrentHP {
			e.logger.Info("Rejected roster hit point change",
				"session_id", sessionID,
				"character_id", c.ID.String(),
				"current_hp", existing.CurrentHP,
				"max_hp", existing.MaxHP)
			return &combat.StateError{CharacterID: c.ID.String(), Err: combat.ErrRosterHPChange}
		}

		roster, err := e.store.Roster(ctx, sessionID)
		if err != nil {
			return err
		}
		seed := existing
		for _, r := range roster {
			if r.ID.String() == existing.ID.String() {
				seed = r
				break
			}
		}
		seed.Name, seed.AC = c.Name, c.AC
		existing.Name, existing.AC = c.Name, c.AC

		p.UpsertCharacter(existing)
		p.UpdatedAt = e.now().UTC()
		if err := e.store.SaveCharacter(ctx, p, seed); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// DeleteSession drops the session state, log and roster.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	unlock, err := e.locker.Lock(ctx, sessionID)
	if err != nil {
		return &storage.PersistenceError{Op: "lock", Err: err}
	}
	defer unlock()
	if err := e.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info("Session deleted", "session_id", sessionID)
	return nil
}

// Events returns the most recent limit events, oldest first. A limit of
// zero or less returns the whole log.
func (e *Engine) Events(ctx context.Context, sessionID string, limit int) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if _, err := e.store.LoadProjection(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit > 0 {
		return e.store.RecentEvents(ctx, sessionID, limit)
	}
	return e.store.Events(ctx, sessionID)
}

// Replay rebuilds the session from its seed roster and log and returns it
// with the stored projection for comparison.
func (e *Engine) Replay(ctx context.Context, sessionID string) (replayed, stored *combat.Projection, err error) {
	err = e.withSession(ctx, sessionID, func(ctx context.Context, p *combat.Projection) error {
		roster, err := e.store.Roster(ctx, sessionID)
		if err != nil {
			return err
		}
		log, err := e.store.Events(ctx, sessionID)
		if err != nil {
			return err
		}
		replayed, err = combat.Replay(sessionID, roster, log, e.registry)
		if err != nil {
			return fmt.Errorf("replay session %s: %w", sessionID, err)
		}
		stored = p
		return nil
	})
	return replayed, stored, err
}

// withSession runs fn under the session lock with the loaded projection.
func (e *Engine) withSession(ctx context.Context, sessionID string, fn func(context.Context, *combat.Projection) error) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	unlock, err := e.locker.Lock(ctx, sessionID)
	if err != nil {
		return &storage.PersistenceError{Op: "lock", Err: err}
	}
	defer unlock()

	p, err := e.store.LoadProjection(ctx, sessionID)
	if err != nil {
		return err
	}
	return fn(ctx, p)
}
