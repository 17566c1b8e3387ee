package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	applied  []event.Event
	rejected []string
}

func (p *recordingPublisher) PublishApplied(ctx context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, e)
	return nil
}

func (p *recordingPublisher) PublishRejected(ctx context.Context, sessionID, eventType string, reason error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, eventType)
	return nil
}

func roster() []combat.Character {
	return []combat.Character{
		{ID: event.IntCharacterID(1), Name: "C", MaxHP: 30, CurrentHP: 30},
		{ID: event.IntCharacterID(2), Name: "D", MaxHP: 25, CurrentHP: 25},
	}
}

func newTestEngine(t *testing.T) (*Engine, *storage.MockStore, *clock, *recordingPublisher) {
	t.Helper()
	store := storage.NewMockStore()
	clk := &clock{now: time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	eng := New(store, combat.DefaultRegistry(), testLogger(), Options{
		Publisher: pub,
		Now:       clk.Now,
	})
	_, err := eng.CreateSession(context.Background(), "42", roster())
	require.NoError(t, err)
	return eng, store, clk, pub
}

func TestEngine_Scenario(t *testing.T) {
	eng, store, clk, pub := newTestEngine(t)
	ctx := context.Background()

	steps := []map[string]any{
		{"type": "damage", "characterId": 1, "amount": 12},
		{"type": "healing", "characterId": 1, "amount": 50},
		{"type": "initiative_roll", "characterId": 1, "initiativeValue": 15},
		{"type": "initiative_roll", "characterId": 2, "initiativeValue": 20},
	}
	for _, raw := range steps {
		_, err := eng.Submit(ctx, "42", raw, event.OriginAPI)
		require.NoError(t, err)
		clk.Advance(10 * time.Second)
	}

	cc, err := eng.CombatContext(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, cc.CurrentTurnCharacterID)
	assert.Equal(t, "2", cc.CurrentTurnCharacterID.String())

	_, err = eng.Submit(ctx, "42", map[string]any{"type": "turn_advance"}, event.OriginAPI)
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	cc, _ = eng.CombatContext(ctx, "42")
	assert.Equal(t, "1", cc.CurrentTurnCharacterID.String())
	assert.Equal(t, 1, cc.CurrentRound)

	_, err = eng.Submit(ctx, "42", map[string]any{"type": "turn_advance"}, event.OriginAPI)
	require.NoError(t, err)
	cc, _ = eng.CombatContext(ctx, "42")
	assert.Equal(t, "2", cc.CurrentTurnCharacterID.String())
	assert.Equal(t, 2, cc.CurrentRound)

	assert.Equal(t, 6, store.Commits())
	assert.Len(t, pub.applied, 6)

	replayed, stored, err := eng.Replay(ctx, "42")
	require.NoError(t, err)
	assert.True(t, combat.Equivalent(replayed, stored))
}

func TestEngine_DedupDoesNotCommit(t *testing.T) {
	eng, store, clk, _ := newTestEngine(t)
	ctx := context.Background()
	for _, raw := range []map[string]any{
		{"type": "initiative_roll", "characterId": 1, "initiativeValue": 15},
		{"type": "initiative_roll", "characterId": 2, "initiativeValue": 20},
	} {
		_, err := eng.Submit(ctx, "42", raw, event.OriginAPI)
		require.NoError(t, err)
	}
	clk.Advance(time.Minute)

	first, err := eng.Submit(ctx, "42", map[string]any{"type": "turn_advance"}, event.OriginExtractor)
	assert.Error(t, err, "extractor payloads must cite the transcript")
	assert.Zero(t, first.ID)

	advance := map[string]any{"type": "turn_advance", "sourceTextSegment": "okay, I'm done"}
	first, err = eng.Submit(ctx, "42", advance, event.OriginExtractor)
	require.NoError(t, err)
	commits := store.Commits()

	clk.Advance(2 * time.Second)
	advance["sourceTextSegment"] = "that's my turn"
	second, err := eng.Submit(ctx, "42", advance, event.OriginExtractor)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, commits, store.Commits())

	cc, _ := eng.CombatContext(ctx, "42")
	assert.Equal(t, "1", cc.CurrentTurnCharacterID.String())
}

func TestEngine_ErrorClasses(t *testing.T) {
	eng, store, _, pub := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, "42", map[string]any{"type": "damage", "characterId": 1}, event.OriginAPI)
	assert.True(t, errors.Is(err, event.ErrValidation))

	_, err = eng.Submit(ctx, "42", map[string]any{"type": "fireworks"}, event.OriginAPI)
	assert.True(t, errors.Is(err, event.ErrUnknownType))

	_, err = eng.Submit(ctx, "42", map[string]any{"type": "turn_advance"}, event.OriginAPI)
	assert.True(t, errors.Is(err, combat.ErrState))

	_, err = eng.Submit(ctx, "missing", map[string]any{"type": "combat_end"}, event.OriginAPI)
	assert.True(t, errors.Is(err, storage.ErrSessionNotFound))

	store.SetCommitError(errors.New("connection reset"))
	_, err = eng.Submit(ctx, "42", map[string]any{"type": "damage", "characterId": 1, "amount": 3}, event.OriginAPI)
	assert.True(t, errors.Is(err, storage.ErrPersistence))
	store.SetCommitError(nil)

	p, err := eng.Projection(ctx, "42")
	require.NoError(t, err)
	c, _ := p.Character(event.IntCharacterID(1))
	assert.Equal(t, 30, c.CurrentHP, "failed commit leaves no trace")
	assert.Equal(t, []string{"damage", "fireworks", "turn_advance"}, pub.rejected)
	assert.Empty(t, pub.applied)
}

func TestEngine_SubmitBatchSkipsInvalid(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	results, err := eng.SubmitBatch(ctx, "42", []map[string]any{
		{"type": "damage", "characterId": 1, "amount": 4},
		{"type": "damage", "characterId": 1, "amount": "lots"},
		{"type": "damage", "characterId": 99, "amount": 4},
		{"type": "spell_cast", "characterId": 1, "spellName": "Bless", "spellLevel": 1},
	}, event.OriginAPI)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NotNil(t, results[0].Event)
	assert.True(t, results[1].Skipped)
	assert.True(t, errors.Is(results[2].Err, combat.ErrCharacterNotInSession))
	assert.NotNil(t, results[3].Event)

	events, err := eng.Events(ctx, "42", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEngine_SubmitBatchStopsOnPersistenceFailure(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	store.SetCommitError(errors.New("read only replica"))

	results, err := eng.SubmitBatch(context.Background(), "42", []map[string]any{
		{"type": "damage", "characterId": 1, "amount": 4},
		{"type": "damage", "characterId": 1, "amount": 4},
	}, event.OriginAPI)
	assert.True(t, errors.Is(err, storage.ErrPersistence))
	assert.Len(t, results, 1)
}

func TestEngine_ConcurrentSubmitsAreSerialized(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Submit(ctx, "42", map[string]any{"type": "damage", "characterId": 1, "amount": 1}, event.OriginAPI)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := eng.Projection(ctx, "42")
	require.NoError(t, err)
	c, _ := p.Character(event.IntCharacterID(1))
	assert.Equal(t, 10, c.CurrentHP)
	assert.Equal(t, 20, store.Commits())
}

func TestEngine_RedisBackedConcurrency(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := storage.NewRedisStore("redis://"+mr.Addr(), 0, testLogger())
	require.NoError(t, err)
	defer store.Close()

	// Two engines share Redis the way two worker processes would.
	engines := make([]*Engine, 2)
	for i := range engines {
		engines[i] = New(store, combat.DefaultRegistry(), testLogger(), Options{
			Locker: NewRedisLocker(store.Client(), 5*time.Second, testLogger()),
		})
	}
	ctx := context.Background()
	_, err = engines[0].CreateSession(ctx, "7", roster())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(eng *Engine) {
			defer wg.Done()
			_, err := eng.Submit(ctx, "7", map[string]any{"type": "damage", "characterId": 2, "amount": 2}, event.OriginAPI)
			assert.NoError(t, err)
		}(engines[i%2])
	}
	wg.Wait()

	p, err := engines[1].Projection(ctx, "7")
	require.NoError(t, err)
	c, _ := p.Character(event.IntCharacterID(2))
	assert.Equal(t, 5, c.CurrentHP)

	events, err := store.Events(ctx, "7")
	require.NoError(t, err)
	assert.Len(t, events, 10)
}

func TestEngine_AddCharacter(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.AddCharacter(ctx, "42", combat.Character{ID: event.StringCharacterID("ogre"), Name: "Ogre", MaxHP: 59, CurrentHP: 80})
	require.NoError(t, err)

	_, err = eng.Submit(ctx, "42", map[string]any{"type": "damage", "characterId": "ogre", "amount": 9}, event.OriginAPI)
	require.NoError(t, err)

	p, _ := eng.Projection(ctx, "42")
	c, _ := p.Character(event.StringCharacterID("ogre"))
	assert.Equal(t, 50, c.CurrentHP)

	seed, err := store.Roster(ctx, "42")
	require.NoError(t, err)
	assert.Len(t, seed, 3)

	_, err = eng.AddCharacter(ctx, "nope", combat.Character{ID: event.IntCharacterID(1), MaxHP: 1})
	assert.True(t, errors.Is(err, storage.ErrSessionNotFound))
}

func TestEngine_AddCharacter_EditKeepsReplayConsistent(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, "42", map[string]any{"type": "damage", "characterId": 1, "amount": 12}, event.OriginAPI)
	require.NoError(t, err)

	// Resetting hit points through the roster would bypass the log.
	_, err = eng.AddCharacter(ctx, "42", combat.Character{ID: event.IntCharacterID(1), Name: "C", MaxHP: 30, CurrentHP: 30})
	require.Error(t, err)
	assert.True(t, errors.Is(err, combat.ErrState))
	assert.True(t, errors.Is(err, combat.ErrRosterHPChange))

	_, err = eng.AddCharacter(ctx, "42", combat.Character{ID: event.IntCharacterID(1), Name: "C", MaxHP: 40, CurrentHP: 18})
	assert.True(t, errors.Is(err, combat.ErrRosterHPChange))

	p, err := eng.AddCharacter(ctx, "42", combat.Character{ID: event.IntCharacterID(1), Name: "Cleric", AC: 18, MaxHP: 30, CurrentHP: 18})
	require.NoError(t, err)
	c, _ := p.Character(event.IntCharacterID(1))
	assert.Equal(t, "Cleric", c.Name)
	assert.Equal(t, 18, c.AC)
	assert.Equal(t, 18, c.CurrentHP)

	seed, err := store.Roster(ctx, "42")
	require.NoError(t, err)
	require.Len(t, seed, 2)
	assert.Equal(t, "Cleric", seed[0].Name)
	assert.Equal(t, 30, seed[0].CurrentHP)

	replayed, stored, err := eng.Replay(ctx, "42")
	require.NoError(t, err)
	assert.True(t, combat.Equivalent(replayed, stored))
}

func TestEngine_DeleteSession(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.DeleteSession(ctx, "42"))
	_, err := eng.CombatContext(ctx, "42")
	assert.True(t, errors.Is(err, storage.ErrSessionNotFound))
	assert.True(t, errors.Is(eng.DeleteSession(ctx, "42"), storage.ErrSessionNotFound))
}

func TestEngine_SessionsAreIndependent(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := eng.CreateSession(ctx, "43", roster())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sid := fmt.Sprintf("%d", 42+i%2)
		_, err := eng.Submit(ctx, sid, map[string]any{"type": "damage", "characterId": 2, "amount": 5}, event.OriginAPI)
		require.NoError(t, err)
	}
	a, _ := eng.Projection(ctx, "42")
	b, _ := eng.Projection(ctx, "43")
	ca, _ := a.Character(event.IntCharacterID(2))
	cb, _ := b.Character(event.IntCharacterID(2))
	assert.Equal(t, 15, ca.CurrentHP)
	assert.Equal(t, 20, cb.CurrentHP)
}
