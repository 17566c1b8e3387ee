package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jwebster45206/combat-tracker/pkg/event"
)

type SubmitEventInput struct {
	SessionID string         `json:"session_id" jsonschema:"combat session id"`
	Event     map[string]any `json:"event" jsonschema:"event payload; must carry type and sourceTextSegment"`
}

type GetCombatContextInput struct {
	SessionID string `json:"session_id" jsonschema:"combat session id"`
}

type ListEventTypesInput struct{}

type SubmitEventOutput struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Duplicate bool           `json:"duplicate"`
	Event     map[string]any `json:"event"`
}

type CombatContextOutput struct {
	Context map[string]any `json:"context"`
}

type FieldOutput struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Required bool     `json:"required"`
	Enum     []string `json:"enum,omitempty"`
	Min      *int     `json:"min,omitempty"`
	Max      *int     `json:"max,omitempty"`
}

type EventTypeOutput struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Fields      []FieldOutput `json:"fields"`
}

type ListEventTypesOutput struct {
	EventTypes []EventTypeOutput `json:"event_types"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "submit_event",
		Description: "Submit one combat event extracted from the session transcript",
	}, s.handleSubmitEvent)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_combat_context",
		Description: "Return turn order, hit points, conditions and effects for a session",
	}, s.handleGetCombatContext)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_event_types",
		Description: "List the accepted event types and their fields",
	}, s.handleListEventTypes)
}

func (s *Server) handleSubmitEvent(ctx context.Context, req *sdk.CallToolRequest, input SubmitEventInput) (*sdk.CallToolResult, SubmitEventOutput, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, SubmitEventOutput{}, fmt.Errorf("session_id is required")
	}
	if len(input.Event) == 0 {
		return nil, SubmitEventOutput{}, fmt.Errorf("event is required")
	}

	results, err := s.engine.SubmitBatch(ctx, input.SessionID, []map[string]any{input.Event}, event.OriginExtractor)
	if err != nil {
		return nil, SubmitEventOutput{}, err
	}
	res := results[0]
	if res.Err != nil {
		return nil, SubmitEventOutput{}, res.Err
	}

	body, err := toMap(res.Event)
	if err != nil {
		return nil, SubmitEventOutput{}, err
	}
	s.logger.Debug("Event submitted over MCP",
		"session_id", input.SessionID,
		"event_id", res.Event.ID,
		"duplicate", res.Duplicate)
	return nil, SubmitEventOutput{
		EventID:   res.Event.ID.String(),
		Type:      string(res.Event.Type),
		Duplicate: res.Duplicate,
		Event:     body,
	}, nil
}

func (s *Server) handleGetCombatContext(ctx context.Context, req *sdk.CallToolRequest, input GetCombatContextInput) (*sdk.CallToolResult, CombatContextOutput, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, CombatContextOutput{}, fmt.Errorf("session_id is required")
	}
	cc, err := s.engine.CombatContext(ctx, input.SessionID)
	if err != nil {
		return nil, CombatContextOutput{}, err
	}
	body, err := toMap(cc)
	if err != nil {
		return nil, CombatContextOutput{}, err
	}
	return nil, CombatContextOutput{Context: body}, nil
}

func (s *Server) handleListEventTypes(ctx context.Context, req *sdk.CallToolRequest, input ListEventTypesInput) (*sdk.CallToolResult, ListEventTypesOutput, error) {
	reg := s.engine.Registry()
	out := ListEventTypesOutput{EventTypes: make([]EventTypeOutput, 0)}
	for _, name := range reg.Types() {
		h, ok := reg.Handler(name)
		if !ok {
			continue
		}
		et := EventTypeOutput{
			Type:        string(name),
			Description: h.Description,
			Fields:      make([]FieldOutput, 0, len(h.Schema.Fields)),
		}
		for _, f := range h.Schema.Fields {
			et.Fields = append(et.Fields, FieldOutput{
				Name:     f.Name,
				Kind:     kindName(f.Kind),
				Required: f.Required,
				Enum:     f.Enum,
				Min:      f.Min,
				Max:      f.Max,
			})
		}
		out.EventTypes = append(out.EventTypes, et)
	}
	return nil, out, nil
}

func kindName(k event.Kind) string {
	switch k {
	case event.KindInteger:
		return "integer"
	case event.KindIntMap:
		return "map<string,integer>"
	case event.KindEnum:
		return "enum"
	case event.KindCharacterID:
		return "character_id"
	default:
		return "string"
	}
}

// toMap round-trips v through its JSON form so custom marshalers are kept.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}
