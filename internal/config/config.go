package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Port        string `env:"PORT"        envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    slog.Level
	RawLogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisURL   string        `env:"REDIS_URL"   envDefault:"redis://localhost:6379"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"0s"`

	// PersistTimeout bounds each submit's persistence calls.
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`
	DedupWindow    time.Duration `env:"DEDUP_WINDOW"    envDefault:"5s"`
	DedupLookback  int           `env:"DEDUP_LOOKBACK"  envDefault:"10"`

	LockBackend string        `env:"LOCK_BACKEND" envDefault:"local"`
	LockTTL     time.Duration `env:"LOCK_TTL"     envDefault:"30s"`

	// MirrorDSN enables the relational mirror when set.
	MirrorDSN string `env:"MIRROR_DSN"`
	WorkerID  string `env:"WORKER_ID"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.RawLogLevel)
	cfg.LockBackend = strings.ToLower(strings.TrimSpace(cfg.LockBackend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.LockBackend {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockLocal, LockRedis, c.LockBackend)
	}
	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be positive")
	}
	if c.DedupWindow < 0 {
		return fmt.Errorf("DEDUP_WINDOW must not be negative")
	}
	if c.DedupLookback < 0 {
		return fmt.Errorf("DEDUP_LOOKBACK must not be negative")
	}
	if c.LockBackend == LockRedis && c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive for the redis lock backend")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must not be negative")
	}
	if c.MirrorDSN != "" && !strings.HasPrefix(c.MirrorDSN, "sqlite://") &&
		!strings.HasPrefix(c.MirrorDSN, "postgres://") && !strings.HasPrefix(c.MirrorDSN, "postgresql://") {
		return fmt.Errorf("MIRROR_DSN must start with sqlite:// or postgres://")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
