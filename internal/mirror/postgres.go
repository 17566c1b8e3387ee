package mirror

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Mirror = (*Postgres)(nil)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS combat_events (
    id           TEXT PRIMARY KEY,
    session_id   BIGINT NOT NULL,
    event_type   TEXT NOT NULL,
    character_id TEXT,
    occurred_at  TIMESTAMPTZ NOT NULL,
    payload      JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS character_hp (
    session_id   BIGINT NOT NULL,
    character_id TEXT NOT NULL,
    current_hp   INTEGER NOT NULL,
    max_hp       INTEGER NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, character_id)
);

CREATE INDEX IF NOT EXISTS idx_combat_events_session ON combat_events (session_id, occurred_at);
`
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating postgres schema: %w", err)
	}
	return nil
}

func (p *Postgres) Write(ctx context.Context, r Record) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO combat_events (id, session_id, event_type, character_id, occurred_at, payload)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			r.EventID, r.SessionID, r.Type, r.CharacterID, r.OccurredAt, string(r.Payload))
		if err != nil {
			return fmt.Errorf("inserting event %s: %w", r.EventID, err)
		}
		if tag.RowsAffected() != 1 || r.HP == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO character_hp (session_id, character_id, current_hp, max_hp, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id, character_id) DO UPDATE SET
				current_hp = EXCLUDED.current_hp,
				max_hp     = EXCLUDED.max_hp,
				updated_at = EXCLUDED.updated_at`,
			r.SessionID, r.HP.CharacterID, r.HP.CurrentHP, r.HP.MaxHP, r.OccurredAt); err != nil {
			return fmt.Errorf("upserting hp for %s: %w", r.HP.CharacterID, err)
		}
		return nil
	})
}

// HP returns the mirrored hit points for one character.
func (p *Postgres) HP(ctx context.Context, sessionID int64, characterID string) (HPRow, error) {
	row := HPRow{CharacterID: characterID}
	err := p.pool.QueryRow(ctx,
		`SELECT current_hp, max_hp FROM character_hp WHERE session_id = $1 AND character_id = $2`,
		sessionID, characterID).Scan(&row.CurrentHP, &row.MaxHP)
	if err != nil {
		return HPRow{}, fmt.Errorf("reading hp: %w", err)
	}
	return row, nil
}
