package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// config is the daemon's environment-driven configuration.
type config struct {
	// Store selects the persistence backend: memory, postgres, sqlite
	// or redis.
	Store string `env:"RELAYQ_STORE" envDefault:"memory"`

	PostgresDSN   string `env:"RELAYQ_POSTGRES_DSN"`
	SQLitePath    string `env:"RELAYQ_SQLITE_PATH" envDefault:"relayq.db"`
	RedisAddr     string `env:"RELAYQ_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"RELAYQ_REDIS_PASSWORD"`

	Queues      []string `env:"RELAYQ_QUEUES" envDefault:"default"`
	Concurrency int      `env:"RELAYQ_CONCURRENCY" envDefault:"10"`
	MaxAttempts int      `env:"RELAYQ_MAX_ATTEMPTS" envDefault:"3"`

	PollInterval    time.Duration `env:"RELAYQ_POLL_INTERVAL" envDefault:"1s"`
	PromoteInterval time.Duration `env:"RELAYQ_PROMOTE_INTERVAL" envDefault:"1s"`
	StaleThreshold  time.Duration `env:"RELAYQ_STALE_THRESHOLD" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"RELAYQ_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	APIAddr  string `env:"RELAYQ_API_ADDR" envDefault:":8080"`
	LogLevel string `env:"RELAYQ_LOG_LEVEL" envDefault:"info"`

	HealthMaxFailed  int64 `env:"RELAYQ_HEALTH_MAX_FAILED" envDefault:"100"`
	HealthMaxWaiting int64 `env:"RELAYQ_HEALTH_MAX_WAITING" envDefault:"1000"`
}

func loadConfig() (config, error) {
	var c config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse environment: %w", err)
	}
	return c, nil
}
