package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// MockStore is an in-memory Store for tests and single-process use.
type MockStore struct {
	mu        sync.RWMutex
	sessions  map[string]*combat.Projection
	logs      map[string][]event.Event
	rosters   map[string]map[string]combat.Character
	outbox    []event.Event
	pingError error
	commitErr error
	commits   int
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*combat.Projection),
		logs:     make(map[string][]event.Event),
		rosters:  make(map[string]map[string]combat.Character),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetCommitError makes every Commit fail with a PersistenceError wrapping err.
// Pass nil to clear it.
func (m *MockStore) SetCommitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// Commits reports how many commits succeeded.
func (m *MockStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pingError != nil {
		return persistErr("ping", m.pingError)
	}
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) CreateSession(ctx context.Context, p *combat.Projection) error {
	if p == nil {
		return errors.New("projection cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; ok {
		return ErrSessionExists
	}
	m.sessions[p.SessionID] = p.Clone()
	roster := make(map[string]combat.Character, len(p.Characters))
	for k, c := range p.Characters {
		roster[k] = c
	}
	m.rosters[p.SessionID] = roster
	return nil
}

func (m *MockStore) LoadProjection(ctx context.Context, sessionID string) (*combat.Projection, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistErr("load projection", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return p.Clone(), nil
}

func (m *MockStore) SaveCharacter(ctx context.Context, p *combat.Projection, c combat.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[p.SessionID] = p.Clone()
	if m.rosters[p.SessionID] == nil {
		m.rosters[p.SessionID] = make(map[string]combat.Character)
	}
	m.rosters[p.SessionID][c.ID.String()] = c
	return nil
}

func (m *MockStore) Roster(ctx context.Context, sessionID string) ([]combat.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]combat.Character, 0, len(m.rosters[sessionID]))
	for _, c := range m.rosters[sessionID] {
		out = append(out, c)
	}
	return sortRoster(out), nil
}

func (m *MockStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.logs, sessionID)
	delete(m.rosters, sessionID)
	return nil
}

func (m *MockStore) Commit(ctx context.Context, p *combat.Projection, e event.Event) error {
	if err := ctx.Err(); err != nil {
		return persistErr("commit", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return persistErr("commit", m.commitErr)
	}
	m.sessions[p.SessionID] = p.Clone()
	m.logs[p.SessionID] = append(m.logs[p.SessionID], e)
	m.outbox = append(m.outbox, e)
	m.commits++
	return nil
}

func (m *MockStore) RecentEvents(ctx context.Context, sessionID string, n int) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.logs[sessionID]
	if n <= 0 {
		return []event.Event{}, nil
	}
	if len(log) > n {
		log = log[len(log)-n:]
	}
	return slices.Clone(log), nil
}

func (m *MockStore) Events(ctx context.Context, sessionID string) ([]event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.logs[sessionID]), nil
}

// NextOutbox never blocks; wait is ignored.
func (m *MockStore) NextOutbox(ctx context.Context, wait time.Duration) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outbox) == 0 {
		return nil, nil
	}
	e := m.outbox[0]
	m.outbox = m.outbox[1:]
	return &e, nil
}

func (m *MockStore) RequeueOutbox(ctx context.Context, e event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append([]event.Event{e}, m.outbox...)
	return nil
}

func sortRoster(roster []combat.Character) []combat.Character {
	slices.SortFunc(roster, func(a, b combat.Character) int { return a.ID.Compare(b.ID) })
	return roster
}
