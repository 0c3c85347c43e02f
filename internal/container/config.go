// Package container provides dependency injection and lifecycle management
// for the approval engine following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database    DatabaseConfig
	Engine      EngineConfig
	Sweeper     SweeperConfig
	Outbox      OutboxConfig
	Bus         BusConfig
	Lark        LarkConfig
	Definitions DefinitionsConfig
	Export      ExportConfig
	Metrics     MetricsConfig
	Server      ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration

	// AutoMigrate applies the embedded migrations on start
	AutoMigrate bool
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	MaxRetries int
	SweepBatch int
}

// SweeperConfig controls the scheduled timeout sweep.
type SweeperConfig struct {
	Enabled bool

	// Schedule is a cron spec, e.g. "@every 1m"
	Schedule string

	// Timeout bounds a single sweep
	Timeout time.Duration
}

// OutboxConfig controls the outbox relay.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// BusConfig controls consumer retries on the in-process bus.
type BusConfig struct {
	OutputBuffer  int64
	MaxRetries    int
	RetryInterval time.Duration
	MaxRetryWait  time.Duration
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	Enabled       bool
	AppID         string
	AppSecret     string
	ReceiveIDType string

	// CardActions listens for approve/reject clicks on notification cards
	CardActions bool
}

// DefinitionsConfig points at the definitions seeded on start.
type DefinitionsConfig struct {
	// SeedPath is a YAML file or a directory of them; empty disables seeding
	SeedPath string
}

// ExportConfig holds audit export settings.
type ExportConfig struct {
	FontName string
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/approval.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			AutoMigrate:  true,
		},
		Engine: EngineConfig{
			MaxRetries: 3,
			SweepBatch: 100,
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@every 1m",
			Timeout:  30 * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			MaxAttempts:  10,
			BaseBackoff:  time.Second,
			MaxBackoff:   5 * time.Minute,
		},
		Bus: BusConfig{
			OutputBuffer:  64,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
			MaxRetryWait:  2 * time.Second,
		},
		Lark: LarkConfig{
			ReceiveIDType: "user_id",
			CardActions:   true,
		},
		Definitions: DefinitionsConfig{
			SeedPath: "configs/definitions",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Engine.MaxRetries < 1 {
		return fmt.Errorf("engine.max_retries must be at least 1")
	}

	if c.Sweeper.Enabled && c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweeper.schedule is required")
	}

	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize < 1 || c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("outbox poll_interval, batch_size and max_attempts must be positive")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	return nil
}
