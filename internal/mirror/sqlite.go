package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var _ Mirror = (*SQLite)(nil)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	driverDSN, err := parseSQLiteDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sqlite DSN: %w", err)
	}

	db, err := sql.Open("sqlite", driverDSN)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Every connection to :memory: is its own database.
	if driverDSN == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS combat_events (
		id           TEXT PRIMARY KEY,
		session_id   INTEGER NOT NULL,
		event_type   TEXT NOT NULL,
		character_id TEXT,
		occurred_at  TEXT NOT NULL,
		payload      TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS character_hp (
		session_id   INTEGER NOT NULL,
		character_id TEXT NOT NULL,
		current_hp   INTEGER NOT NULL,
		max_hp       INTEGER NOT NULL,
		updated_at   TEXT NOT NULL,
		PRIMARY KEY (session_id, character_id)
	);

	CREATE INDEX IF NOT EXISTS idx_combat_events_session ON combat_events (session_id, occurred_at);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLite) Write(ctx context.Context, r Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	at := r.OccurredAt.Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO combat_events (id, session_id, event_type, character_id, occurred_at, payload)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		r.EventID, r.SessionID, r.Type, r.CharacterID, at, string(r.Payload))
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", r.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	// A replayed outbox entry must not roll hit points back.
	if n == 1 && r.HP != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO character_hp (session_id, character_id, current_hp, max_hp, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (session_id, character_id) DO UPDATE SET
				current_hp = excluded.current_hp,
				max_hp     = excluded.max_hp,
				updated_at = excluded.updated_at`,
			r.SessionID, r.HP.CharacterID, r.HP.CurrentHP, r.HP.MaxHP, at); err != nil {
			return fmt.Errorf("upserting hp for %s: %w", r.HP.CharacterID, err)
		}
	}
	return tx.Commit()
}

// EventCount returns how many events the mirror holds for a session.
func (s *SQLite) EventCount(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM combat_events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// HP returns the mirrored hit points for one character.
func (s *SQLite) HP(ctx context.Context, sessionID int64, characterID string) (HPRow, error) {
	row := HPRow{CharacterID: characterID}
	err := s.db.QueryRowContext(ctx,
		`SELECT current_hp, max_hp FROM character_hp WHERE session_id = ? AND character_id = ?`,
		sessionID, characterID).Scan(&row.CurrentHP, &row.MaxHP)
	if err != nil {
		return HPRow{}, fmt.Errorf("reading hp: %w", err)
	}
	return row, nil
}

func parseSQLiteDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "sqlite://") {
		return "", fmt.Errorf("invalid sqlite DSN scheme, expected sqlite://")
	}

	rest := strings.TrimPrefix(dsn, "sqlite://")
	if rest == "" {
		return "", fmt.Errorf("sqlite DSN has no path")
	}
	if rest == ":memory:" || strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "./") {
		return rest, nil
	}

	path, query, hasQuery := strings.Cut(rest, "?")
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("unescaping path: %w", err)
	}
	path = unescaped
	if !filepath.IsAbs(path) {
		path = "./" + path
	}
	if hasQuery {
		return path + "?" + query, nil
	}
	return path, nil
}
