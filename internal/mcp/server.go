package mcp

import (
	"context"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
	"github.com/jwebster45206/combat-tracker/pkg/event"
)

// Engine is the slice of the combat engine exposed as tools.
type Engine interface {
	SubmitBatch(ctx context.Context, sessionID string, raws []map[string]any, origin event.Origin) ([]engine.Result, error)
	CombatContext(ctx context.Context, sessionID string) (combat.Context, error)
	Registry() *combat.Registry
}

var _ Engine = (*engine.Engine)(nil)

// Server lets a transcript extractor submit events and read combat state.
type Server struct {
	engine Engine
	logger *slog.Logger
	mcp    *sdk.Server
}

func NewServer(eng Engine, logger *slog.Logger, version string) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "combat-tracker",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
