package storage

import (
	"context"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Store persists session projections, their event logs and the outbox that
// feeds the relational mirror.
type Store interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Session lifecycle
	CreateSession(ctx context.Context, p *combat.Projection) error
	LoadProjection(ctx context.Context, sessionID string) (*combat.Projection, error)
	SaveCharacter(ctx context.Context, p *combat.Projection, c combat.Character) error
	Roster(ctx context.Context, sessionID string) ([]combat.Character, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Commit writes the next projection, appends e to the log and queues e on
	// the outbox. Either all three land or none do.
	Commit(ctx context.Context, p *combat.Projection, e event.Event) error

	// Event log, oldest first
	RecentEvents(ctx context.Context, sessionID string, n int) ([]event.Event, error)
	Events(ctx context.Context, sessionID string) ([]event.Event, error)

	// Outbox
	NextOutbox(ctx context.Context, wait time.Duration) (*event.Event, error)
	RequeueOutbox(ctx context.Context, e event.Event) error
}
