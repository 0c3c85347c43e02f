package config

import (
	"github.com/garyjia/approval-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Engine: container.EngineConfig{
			MaxRetries: c.Engine.MaxRetries,
			SweepBatch: c.Engine.SweepBatch,
		},
		Sweeper: container.SweeperConfig{
			Enabled:  c.Sweeper.Enabled,
			Schedule: c.Sweeper.Schedule,
			Timeout:  c.Sweeper.Timeout,
		},
		Outbox: container.OutboxConfig{
			PollInterval: c.Outbox.PollInterval,
			BatchSize:    c.Outbox.BatchSize,
			MaxAttempts:  c.Outbox.MaxAttempts,
			BaseBackoff:  c.Outbox.BaseBackoff,
			MaxBackoff:   c.Outbox.MaxBackoff,
		},
		Bus: container.BusConfig{
			OutputBuffer:  c.Bus.OutputBuffer,
			MaxRetries:    c.Bus.MaxRetries,
			RetryInterval: c.Bus.RetryInterval,
			MaxRetryWait:  c.Bus.MaxRetryWait,
		},
		Lark: container.LarkConfig{
			Enabled:       c.Lark.Enabled,
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
			CardActions:   c.Lark.CardActions,
		},
		Definitions: container.DefinitionsConfig{
			SeedPath: c.Definitions.SeedPath,
		},
		Export: container.ExportConfig{
			FontName: c.Export.FontName,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
	}
}
