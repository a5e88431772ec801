// Package config reads the daemon configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the full daemon configuration. Every field can be set from
// the environment; cmd flags override the result.
type Config struct {
	// DataPath is the directory for the ledger database.
	DataPath string `env:"CAMPLEDGER_DATA" envDefault:"./data"`

	// Endpoints are the relay addresses queried on every round.
	Endpoints []string `env:"CAMPLEDGER_ENDPOINTS" envSeparator:","`

	// QueryTimeout bounds each fan-out call.
	QueryTimeout time.Duration `env:"CAMPLEDGER_QUERY_TIMEOUT" envDefault:"10s"`

	// SyncInterval is the pause between sync rounds.
	SyncInterval time.Duration `env:"CAMPLEDGER_SYNC_INTERVAL" envDefault:"30s"`

	// EvictionTTL ages records out of the ledger (0 disables).
	EvictionTTL time.Duration `env:"CAMPLEDGER_EVICTION_TTL" envDefault:"0"`

	// Capacity bounds the ledger record count (0 = unbounded).
	Capacity int `env:"CAMPLEDGER_CAPACITY" envDefault:"0"`

	// SnapshotPath is where ledger snapshots are written ("" disables).
	SnapshotPath string `env:"CAMPLEDGER_SNAPSHOT" envDefault:""`

	// SnapshotInterval is the pause between snapshot saves.
	SnapshotInterval time.Duration `env:"CAMPLEDGER_SNAPSHOT_INTERVAL" envDefault:"5m"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `env:"CAMPLEDGER_LOG_LEVEL" envDefault:"info"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}
