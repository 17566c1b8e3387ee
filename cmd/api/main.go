package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/combat-tracker/internal/config"
	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/internal/handlers"
	"github.com/jwebster45206/combat-tracker/internal/logger"
	"github.com/jwebster45206/combat-tracker/internal/middleware"
	"github.com/jwebster45206/combat-tracker/internal/mirror"
	"github.com/jwebster45206/combat-tracker/internal/services/events"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Combat Tracker API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"lock_backend", cfg.LockBackend,
		"mirror_enabled", cfg.MirrorDSN != "")

	store, err := storage.NewRedisStore(cfg.RedisURL, cfg.SessionTTL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	broadcaster := events.NewBroadcaster(store.Client(), log)

	var locker engine.Locker = engine.NewLocalLocker()
	if cfg.LockBackend == config.LockRedis {
		locker = engine.NewRedisLocker(store.Client(), cfg.LockTTL, log)
	}

	eng := engine.New(store, combat.DefaultRegistry(), log, engine.Options{
		Policy: combat.Policy{
			DedupWindow:   cfg.DedupWindow,
			DedupLookback: cfg.DedupLookback,
		},
		PersistTimeout: cfg.PersistTimeout,
		Locker:         locker,
		Publisher:      broadcaster,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayDone := make(chan struct{})
	if cfg.MirrorDSN != "" {
		m := openMirror(ctx, cfg.MirrorDSN, log)
		defer func() {
			if err := m.Close(); err != nil {
				log.Error("Error closing mirror", "error", err)
			}
		}()
		relay := mirror.NewRelay(store, m, log)
		go func() {
			defer close(relayDone)
			if err := relay.Run(ctx); err != nil {
				log.Error("Mirror relay stopped", "error", err)
			}
		}()
	} else {
		close(relayDone)
	}

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(store, log)
	mux.Handle("/health", healthHandler)

	streamHandler := handlers.NewEventsHandler(broadcaster, log)
	sessionHandler := handlers.NewSessionHandler(eng, streamHandler, log)
	mux.Handle("/v1/sessions", sessionHandler)
	mux.Handle("/v1/sessions/", sessionHandler)

	handler := middleware.Logger(log, mux)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the event stream holds connections open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	cancel()
	<-relayDone

	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}

func openMirror(ctx context.Context, dsn string, log *slog.Logger) mirror.Mirror {
	openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
	defer openCancel()

	m, err := mirror.Open(openCtx, dsn)
	if err != nil {
		log.Error("Failed to open mirror", "error", err)
		os.Exit(1)
	}
	if err := m.EnsureSchema(openCtx); err != nil {
		log.Error("Failed to prepare mirror schema", "error", err)
		os.Exit(1)
	}
	log.Info("Mirror connection established successfully")
	return m
}
