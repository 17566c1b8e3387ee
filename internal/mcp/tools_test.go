package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := engine.New(storage.NewMockStore(), combat.DefaultRegistry(), logger, engine.Options{})
	_, err := eng.CreateSession(context.Background(), "12", []combat.Character{
		{ID: event.IntCharacterID(1), Name: "Ilsa", MaxHP: 24, CurrentHP: 24},
		{ID: event.StringCharacterID("ogre"), Name: "Ogre", MaxHP: 59, CurrentHP: 59},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return NewServer(eng, logger, "test")
}

func TestSubmitEvent(t *testing.T) {
	server := newTestServer(t)

	_, output, err := server.handleSubmitEvent(context.Background(), nil, SubmitEventInput{
		SessionID: "12",
		Event: map[string]any{
			"type":              "damage",
			"characterId":       "ogre",
			"amount":            float64(14),
			"sourceTextSegment": "the ogre takes 14 from the greataxe",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Type != "damage" || output.EventID == "" {
		t.Fatalf("unexpected output: %+v", output)
	}
	if output.Event["previousHp"] != float64(59) || output.Event["currentHp"] != float64(45) {
		t.Errorf("expected hp audit fields, got %+v", output.Event)
	}
}

func TestSubmitEvent_RequiresTranscript(t *testing.T) {
	server := newTestServer(t)

	_, _, err := server.handleSubmitEvent(context.Background(), nil, SubmitEventInput{
		SessionID: "12",
		Event:     map[string]any{"type": "damage", "characterId": float64(1), "amount": float64(3)},
	})
	if !errors.Is(err, event.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitEvent_MissingInput(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name  string
		input SubmitEventInput
	}{
		{"no session", SubmitEventInput{Event: map[string]any{"type": "combat_end"}}},
		{"no event", SubmitEventInput{SessionID: "12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := server.handleSubmitEvent(context.Background(), nil, tt.input); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSubmitEvent_DuplicateTurnAdvance(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	for _, raw := range []map[string]any{
		{"type": "initiative_roll", "characterId": float64(1), "initiativeValue": float64(17), "sourceTextSegment": "I rolled a 17"},
		{"type": "initiative_roll", "characterId": "ogre", "initiativeValue": float64(9), "sourceTextSegment": "the ogre gets 9"},
	} {
		if _, _, err := server.handleSubmitEvent(ctx, nil, SubmitEventInput{SessionID: "12", Event: raw}); err != nil {
			t.Fatalf("initiative: %v", err)
		}
	}

	advance := map[string]any{"type": "turn_advance", "sourceTextSegment": "ok, ogre's turn"}
	_, first, err := server.handleSubmitEvent(ctx, nil, SubmitEventInput{SessionID: "12", Event: advance})
	if err != nil {
		t.Fatalf("first advance: %v", err)
	}
	_, second, err := server.handleSubmitEvent(ctx, nil, SubmitEventInput{SessionID: "12", Event: advance})
	if err != nil {
		t.Fatalf("second advance: %v", err)
	}
	if first.Duplicate || !second.Duplicate || first.EventID != second.EventID {
		t.Fatalf("expected second advance to be absorbed: first=%+v second=%+v", first, second)
	}

	_, cc, err := server.handleGetCombatContext(ctx, nil, GetCombatContextInput{SessionID: "12"})
	if err != nil {
		t.Fatalf("combat context: %v", err)
	}
	if cc.Context["currentTurnCharacterId"] != "ogre" {
		t.Errorf("expected ogre to act, got %v", cc.Context["currentTurnCharacterId"])
	}
}

func TestGetCombatContext_UnknownSession(t *testing.T) {
	server := newTestServer(t)

	_, _, err := server.handleGetCombatContext(context.Background(), nil, GetCombatContextInput{SessionID: "99"})
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListEventTypes(t *testing.T) {
	server := newTestServer(t)

	_, output, err := server.handleListEventTypes(context.Background(), nil, ListEventTypesInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.EventTypes) != 11 {
		t.Fatalf("expected 11 event types, got %d", len(output.EventTypes))
	}

	var damage *EventTypeOutput
	for i := range output.EventTypes {
		if output.EventTypes[i].Type == "damage" {
			damage = &output.EventTypes[i]
		}
	}
	if damage == nil {
		t.Fatal("damage not listed")
	}
	found := false
	for _, f := range damage.Fields {
		if f.Name == "amount" {
			found = true
			if f.Kind != "integer" || !f.Required {
				t.Errorf("unexpected amount field: %+v", f)
			}
		}
	}
	if !found {
		t.Error("amount field not listed")
	}
}

func TestServer_InMemoryRoundTrip(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Run(ctx, serverTransport)
	}()

	client := sdk.NewClient(&sdk.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	clientCtx, clientCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer clientCancel()
	session, err := client.Connect(clientCtx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(clientCtx, &sdk.CallToolParams{
		Name: "submit_event",
		Arguments: map[string]any{
			"session_id": "12",
			"event": map[string]any{
				"type":              "healing",
				"characterId":       1,
				"amount":            5,
				"sourceTextSegment": "cure wounds for five",
			},
		},
	})
	if err != nil {
		t.Fatalf("call submit_event: %v", err)
	}
	if result.IsError {
		t.Fatalf("submit_event returned error content: %+v", result.Content)
	}

	data, err := json.Marshal(result.StructuredContent)
	if err != nil {
		t.Fatalf("encode structured content: %v", err)
	}
	var output SubmitEventOutput
	if err := json.Unmarshal(data, &output); err != nil {
		t.Fatalf("decode structured content: %v", err)
	}
	if output.Type != "healing" {
		t.Errorf("expected healing, got %q", output.Type)
	}

	result, err = session.CallTool(clientCtx, &sdk.CallToolParams{
		Name:      "submit_event",
		Arguments: map[string]any{"session_id": "12", "event": map[string]any{"type": "teleport"}},
	})
	if err != nil {
		t.Fatalf("call submit_event: %v", err)
	}
	if !result.IsError {
		t.Error("expected unknown event type to be reported as a tool error")
	}

	session.Close()
	cancel()
	select {
	case <-serveErr:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
