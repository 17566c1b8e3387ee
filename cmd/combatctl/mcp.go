package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/jwebster45206/combat-tracker/internal/config"
	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/internal/logger"
	"github.com/jwebster45206/combat-tracker/internal/mcp"
	"github.com/jwebster45206/combat-tracker/internal/services/events"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the extractor tools over MCP stdio",
		Long: "Serve submit_event, get_combat_context and list_event_types over stdio. " +
			"Configuration comes from the same environment as the API; sessions are " +
			"locked through Redis so the API and workers see a consistent order.",
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.SetupWriter(cfg, os.Stderr)

	store, err := storage.NewRedisStore(cfg.RedisURL, cfg.SessionTTL, log)
	if err != nil {
		return err
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return err
	}

	eng := engine.New(store, combat.DefaultRegistry(), log, engine.Options{
		Policy: combat.Policy{
			DedupWindow:   cfg.DedupWindow,
			DedupLookback: cfg.DedupLookback,
		},
		PersistTimeout: cfg.PersistTimeout,
		Locker:         engine.NewRedisLocker(store.Client(), cfg.LockTTL, log),
		Publisher:      events.NewBroadcaster(store.Client(), log),
	})

	log.Info("Starting MCP server", "version", version)
	return mcp.NewServer(eng, log, version).Run(ctx, &sdk.StdioTransport{})
}
