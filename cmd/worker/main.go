package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/combat-tracker/internal/config"
	"github.com/jwebster45206/combat-tracker/internal/engine"
	"github.com/jwebster45206/combat-tracker/internal/logger"
	"github.com/jwebster45206/combat-tracker/internal/mirror"
	"github.com/jwebster45206/combat-tracker/internal/services/events"
	"github.com/jwebster45206/combat-tracker/internal/services/queue"
	"github.com/jwebster45206/combat-tracker/internal/storage"
	"github.com/jwebster45206/combat-tracker/internal/worker"
	"github.com/jwebster45206/combat-tracker/pkg/combat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Combat Tracker Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL)

	// Initialize queue service
	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		err = queueClient.Close()
		if err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()

	ingestQueue := queue.NewIngestQueue(queueClient)
	log.Info("Queue service initialized successfully")

	// Initialize storage service
	// (separate client from the queue so blocking pops don't starve commits)
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
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing storage connection", "error", err)
		}
	}()
	log.Info("Storage service initialized successfully")

	// Workers always share the Redis lock so several can drain one queue.
	eng := engine.New(store, combat.DefaultRegistry(), log, engine.Options{
		Policy: combat.Policy{
			DedupWindow:   cfg.DedupWindow,
			DedupLookback: cfg.DedupLookback,
		},
		PersistTimeout: cfg.PersistTimeout,
		Locker:         engine.NewRedisLocker(store.Client(), cfg.LockTTL, log),
		Publisher:      events.NewBroadcaster(store.Client(), log),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayDone := make(chan struct{})
	if cfg.MirrorDSN != "" {
		openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
		m, err := mirror.Open(openCtx, cfg.MirrorDSN)
		if err == nil {
			err = m.EnsureSchema(openCtx)
		}
		openCancel()
		if err != nil {
			log.Error("Failed to open mirror", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := m.Close(); err != nil {
				log.Error("Error closing mirror", "error", err)
			}
		}()
		go func() {
			defer close(relayDone)
			if err := mirror.NewRelay(store, m, log).Run(ctx); err != nil {
				log.Error("Mirror relay stopped", "error", err)
			}
		}()
	} else {
		close(relayDone)
	}

	w := worker.New(ingestQueue, eng, log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	w.Stop()
	cancel()
	<-relayDone

	// Give worker time to finish current request
	time.Sleep(2 * time.Second)

	log.Info("Worker exited")
}
