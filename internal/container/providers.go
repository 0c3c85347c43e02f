package container

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/adapter/notification"
	"github.com/garyjia/approval-engine/internal/adapter/requeststatus"
	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	infraLark "github.com/garyjia/approval-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/approval-engine/internal/infrastructure/messaging"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	"github.com/garyjia/approval-engine/internal/interfaces/websocket"
	"github.com/garyjia/approval-engine/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Definitions port.DefinitionRepository
	Instances   port.InstanceRepository
	Logs        port.ApprovalLogRepository
	Outbox      port.OutboxRepository
	Processed   port.ProcessedEventRepository
	Statuses    port.RequestStatusRepository
	Directory   *repository.DirectoryRepository
}

// MetricsBundle holds the Prometheus registry and the recorders fed from it.
type MetricsBundle struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// ProvideDatabase opens the database and applies pending migrations when
// AutoMigrate is set.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		migrator := database.NewMigrator(conn.DB, migrations.FS, migrations.SQLite, logger)
		if err := migrator.Up(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories over the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Definitions: repository.NewDefinitionRepository(db, logger),
		Instances:   repository.NewInstanceRepository(db, logger),
		Logs:        repository.NewApprovalLogRepository(db, logger),
		Outbox:      repository.NewOutboxRepository(db, logger),
		Processed:   repository.NewProcessedEventRepository(db, logger),
		Statuses:    repository.NewRequestStatusRepository(db, logger),
		Directory:   repository.NewDirectoryRepository(db, logger),
	}, nil
}

// ProvideMetrics creates the registry with Go and process collectors, the
// service metrics and the outbox backlog gauge. It returns nil when metrics
// are disabled.
func ProvideMetrics(cfg *MetricsConfig, outbox port.OutboxRepository, logger *zap.Logger) (*MetricsBundle, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}
	if err := reg.Register(metrics.NewOutboxCollector(outbox, logger)); err != nil {
		return nil, fmt.Errorf("failed to register outbox collector: %w", err)
	}

	return &MetricsBundle{
		Registry: reg,
		Metrics:  metrics.New(reg),
	}, nil
}

// DefinitionDeps holds dependencies required for the definition store.
type DefinitionDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Evaluator *rule.Evaluator
	SeedPath  string
	Logger    *zap.Logger
}

// ProvideDefinitions creates the definition store and seeds it from SeedPath.
// A missing seed path is logged and skipped.
func ProvideDefinitions(ctx context.Context, deps *DefinitionDeps) (definition.Store, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("definition dependencies are required")
	}

	store := definition.NewStore(
		deps.Repos.Definitions,
		deps.TxManager,
		definition.WithLogger(deps.Logger),
		definition.WithRuleSupport(deps.Evaluator.Supports),
	)

	if deps.SeedPath == "" {
		return store, nil
	}
	if _, err := os.Stat(deps.SeedPath); errors.Is(err, os.ErrNotExist) {
		deps.Logger.Warn("Definition seed path not found, skipping", zap.String("path", deps.SeedPath))
		return store, nil
	}

	published, err := definition.Seed(ctx, store, deps.SeedPath, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to seed definitions: %w", err)
	}
	deps.Logger.Info("Definitions seeded",
		zap.String("path", deps.SeedPath),
		zap.Int("published", published))

	return store, nil
}

// ProvideDispatcher creates the event dispatcher, reporting handler outcomes
// to the metrics when they are enabled.
func ProvideDispatcher(m *MetricsBundle, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []dispatcher.Option{dispatcher.WithLogger(logger.Named("dispatcher"))}
	if m != nil {
		opts = append(opts, dispatcher.WithObserver(m.Metrics))
	}
	return dispatcher.NewDispatcher(opts...), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine.
type WorkflowDeps struct {
	Repos       *RepositoryBundle
	Definitions definition.Store
	Evaluator   *rule.Evaluator
	TxManager   port.TransactionManager
	Metrics     *MetricsBundle
	EngineCfg   *EngineConfig
	OnCommit    func()
	Logger      *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
// Returns workflow.WorkflowEngine implementation.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.WorkflowEngine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Definitions == nil {
		return nil, fmt.Errorf("definition store is required")
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(deps.Logger),
		workflow.WithMaxRetries(deps.EngineCfg.MaxRetries),
		workflow.WithSweepBatch(deps.EngineCfg.SweepBatch),
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithRecorder(deps.Metrics.Metrics))
	}
	if deps.OnCommit != nil {
		opts = append(opts, workflow.WithCommitHook(deps.OnCommit))
	}

	return workflow.NewEngine(
		workflow.Repositories{
			Instances: deps.Repos.Instances,
			Logs:      deps.Repos.Logs,
			Outbox:    deps.Repos.Outbox,
		},
		deps.Definitions,
		deps.Evaluator,
		deps.TxManager,
		opts...,
	), nil
}

// ConsumerDeps holds dependencies required for the event consumers.
type ConsumerDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Lark       *infraLark.SDKClient
	Logger     *zap.Logger
}

// RegisterConsumers subscribes the request status tracker and, when Lark is
// configured, the notifier. Both run behind the deduplicator.
func RegisterConsumers(deps *ConsumerDeps) error {
	if deps == nil || deps.Repos == nil || deps.Dispatcher == nil {
		return fmt.Errorf("consumer dependencies are required")
	}

	dedup := dispatcher.NewDeduplicator(deps.Repos.Processed, deps.TxManager, nil)
	workflowTypes := entity.WorkflowTypes()

	err := requeststatus.NewTracker(deps.Repos.Statuses, deps.Logger).
		Register(deps.Dispatcher, dedup, workflowTypes...)
	if err != nil {
		return fmt.Errorf("failed to register request status tracker: %w", err)
	}

	if deps.Lark != nil {
		messenger := infraLark.NewMessenger(deps.Lark, deps.Logger)
		err := notification.NewNotifier(messenger, deps.Logger).
			Register(deps.Dispatcher, dedup, workflowTypes...)
		if err != nil {
			return fmt.Errorf("failed to register notifier: %w", err)
		}
	}

	return nil
}

// ProvideLarkClient creates the Lark SDK client, or nil when Lark is disabled.
func ProvideLarkClient(cfg *LarkConfig, logger *zap.Logger) *infraLark.SDKClient {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return infraLark.NewSDKClient(infraLark.Config{
		AppID:         cfg.AppID,
		AppSecret:     cfg.AppSecret,
		ReceiveIDType: cfg.ReceiveIDType,
	}, logger)
}

// ProvideBus creates the message bus that delivers outbox events to the dispatcher.
func ProvideBus(cfg *BusConfig, d dispatcher.Dispatcher, m *MetricsBundle, logger *zap.Logger) (*messaging.Bus, error) {
	busCfg := messaging.DefaultConfig()
	busCfg.OutputBuffer = cfg.OutputBuffer
	busCfg.MaxRetries = cfg.MaxRetries
	busCfg.RetryInterval = cfg.RetryInterval
	busCfg.MaxRetryWait = cfg.MaxRetryWait

	var opts []messaging.Option
	if m != nil {
		opts = append(opts, messaging.WithRejectHook(m.Metrics.Rejected))
	}

	return messaging.NewBus(busCfg, d, logger, opts...)
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Config  *Config
	Repos   *RepositoryBundle
	Engine  workflow.WorkflowEngine
	Bus     *messaging.Bus
	Metrics *MetricsBundle
	Logger  *zap.Logger
}

// WorkerBundle holds the worker manager and the relay, which callers nudge
// after writes.
type WorkerBundle struct {
	Manager *worker.WorkerManager
	Relay   *worker.OutboxRelay
}

// ProvideWorkers creates and registers all background workers.
// Workers are registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*WorkerBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil || deps.Engine == nil || deps.Bus == nil {
		return nil, fmt.Errorf("repositories, engine and bus are required")
	}

	cfg := deps.Config
	manager := worker.NewWorkerManager(deps.Logger)

	relay := worker.NewOutboxRelay(
		deps.Repos.Outbox,
		deps.Bus,
		port.NewRealClock(),
		worker.RelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			MaxAttempts:  cfg.Outbox.MaxAttempts,
			BaseBackoff:  cfg.Outbox.BaseBackoff,
			MaxBackoff:   cfg.Outbox.MaxBackoff,
		},
		deps.Logger,
	)
	if deps.Metrics != nil {
		relay.SetObserver(deps.Metrics.Metrics)
	}
	if err := manager.Register(relay); err != nil {
		return nil, err
	}

	if cfg.Sweeper.Enabled {
		sweeper, err := worker.NewTimeoutSweeper(deps.Engine, cfg.Sweeper.Schedule, cfg.Sweeper.Timeout, deps.Logger)
		if err != nil {
			return nil, err
		}
		if err := manager.Register(sweeper); err != nil {
			return nil, err
		}
	}

	if cfg.Lark.Enabled && cfg.Lark.CardActions {
		listener := websocket.NewLarkAdapter(websocket.LarkAdapterConfig{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
		}, deps.Engine, deps.Logger)
		if err := manager.Register(listener); err != nil {
			return nil, err
		}
	}

	return &WorkerBundle{
		Manager: manager,
		Relay:   relay,
	}, nil
}
