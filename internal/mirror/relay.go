package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Outbox is the store side of the relay.
type Outbox interface {
	NextOutbox(ctx context.Context, wait time.Duration) (*event.Event, error)
	RequeueOutbox(ctx context.Context, e event.Event) error
}

// Relay drains the outbox into a Mirror.
type Relay struct {
	outbox  Outbox
	mirror  Mirror
	logger  *slog.Logger
	wait    time.Duration
	backoff time.Duration
}

func NewRelay(outbox Outbox, m Mirror, logger *slog.Logger) *Relay {
	return &Relay{
		outbox:  outbox,
		mirror:  m,
		logger:  logger,
		wait:    5 * time.Second,
		backoff: time.Second,
	}
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Outbox relay starting")
	for {
		if ctx.Err() != nil {
			r.logger.Info("Outbox relay shutting down")
			return nil
		}
		if _, err := r.Step(ctx); err != nil {
			r.logger.Error("Outbox relay step failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(r.backoff):
			}
		}
	}
}

// Step moves at most one event from the outbox to the mirror. It reports
// whether an event was taken off the outbox.
func (r *Relay) Step(ctx context.Context) (bool, error) {
	e, err := r.outbox.NextOutbox(ctx, r.wait)
	if err != nil {
		return false, fmt.Errorf("reading outbox: %w", err)
	}
	if e == nil {
		return false, nil
	}
	log := r.logger.With("session_id", e.SessionID, "event_id", e.ID, "event_type", e.Type)

	rec, err := NewRecord(*e)
	if errors.Is(err, ErrNonIntegerSession) {
		log.Warn("Skipping mirror write for non-integer session id")
		return true, nil
	}
	if err != nil {
		log.Error("Dropping unmirrorable event", "error", err)
		return true, nil
	}

	if err := r.mirror.Write(ctx, rec); err != nil {
		// Put it back so the next step retries; writes are idempotent by id.
		if qerr := r.outbox.RequeueOutbox(context.WithoutCancel(ctx), *e); qerr != nil {
			log.Error("Failed to requeue outbox entry", "error", qerr)
		}
		return true, fmt.Errorf("mirroring event %s: %w", e.ID, err)
	}
	log.Debug("Event mirrored")
	return true, nil
}
