// Package mirror copies applied events into a relational database for
// reporting. It is fed from the store's outbox and is idempotent by event id.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// ErrNonIntegerSession marks events whose session id cannot be used as the
// mirror's integer key. Such events are skipped.
var ErrNonIntegerSession = errors.New("session id is not an integer")

// Mirror is a relational copy of the event log plus current hit points.
type Mirror interface {
	EnsureSchema(ctx context.Context) error
	// Write stores r. Writing an event id that is already present is a no-op.
	Write(ctx context.Context, r Record) error
	Close() error
}

// Record is one event flattened into mirror columns.
type Record struct {
	EventID     string
	SessionID   int64
	Type        string
	CharacterID string
	OccurredAt  time.Time
	Payload     []byte

	// HP is set for damage and healing events.
	HP *HPRow
}

// HPRow is the character_hp row an event leaves behind.
type HPRow struct {
	CharacterID string
	CurrentHP   int
	MaxHP       int
}

// NewRecord converts e into a Record.
func NewRecord(e event.Event) (Record, error) {
	sid, err := strconv.ParseInt(strings.TrimSpace(e.SessionID), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrNonIntegerSession, e.SessionID)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	r := Record{
		EventID:    e.ID.String(),
		SessionID:  sid,
		Type:       string(e.Type),
		OccurredAt: e.Timestamp.UTC(),
		Payload:    payload,
	}
	if e.CharacterID != nil {
		r.CharacterID = e.CharacterID.String()
	}

	if e.Type == event.TypeDamage || e.Type == event.TypeHealing {
		cur, okCur := e.Fields.Int(combat.FieldCurrentHP)
		maxHP, okMax := e.Fields.Int(combat.FieldMaxHP)
		if okCur && okMax && r.CharacterID != "" {
			r.HP = &HPRow{CharacterID: r.CharacterID, CurrentHP: cur, MaxHP: maxHP}
		}
	}
	return r, nil
}

// Open connects to the mirror named by dsn: sqlite://path or
// postgres://... (postgresql:// also accepted).
func Open(ctx context.Context, dsn string) (Mirror, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(ctx, dsn)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported mirror DSN scheme: %q", dsn)
	}
}
