package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	"github.com/garyjia/approval-engine/internal/infrastructure/messaging"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/spreadsheet"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	"github.com/garyjia/approval-engine/pkg/database"
)

// busStartTimeout bounds the wait for the bus router to subscribe
const busStartTimeout = 10 * time.Second

// Container owns the engine's components from the database up to the
// background workers. Start builds them in order; Close tears them down
// newest first.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	metrics      *MetricsBundle

	// Application
	evaluator   *rule.Evaluator
	definitions definition.Store
	dispatcher  dispatcher.Dispatcher
	workflow    workflow.WorkflowEngine
	exporter    port.AuditExporter

	// Delivery
	bus     *messaging.Bus
	busDone chan error
	workers *WorkerBundle
	relay   atomic.Pointer[worker.OutboxRelay]

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// NewContainer validates the configuration. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start builds the components in dependency order and starts the bus and
// workers. When a step fails everything already built is torn down again.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	steps := []struct {
		name string
		run  func() error
	}{
		{"database", c.initDatabase},
		{"metrics", c.initMetrics},
		{"workflow engine", c.initWorkflow},
		{"dispatcher", c.initDispatcher},
		{"bus", c.initBus},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			c.logger.Error("Container start failed", zap.String("step", step.name), zap.Error(err))
			if teardownErr := c.teardown(); teardownErr != nil {
				c.logger.Error("Teardown after failed start", zap.Error(teardownErr))
			}
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Debug("Container step ready", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started",
		zap.String("database", c.config.Database.Path),
		zap.Bool("metrics", c.metrics != nil),
		zap.Int("workers", c.workers.Manager.GetWorkerCount()))
	return nil
}

// Close stops the workers, then the bus, then releases the dispatcher and
// the database. A second call returns an error.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

// teardown releases whatever Start built, newest first. Workers go before
// the bus so nothing publishes into a closing router.
func (c *Container) teardown() error {
	var errs []error
	collect := func(what string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if c.workers != nil {
		collect("stop workers", c.workers.Manager.StopAll())
		c.relay.Store(nil)
		c.workers = nil
	}
	if c.bus != nil {
		collect("close bus", c.bus.Close())
		if c.busDone != nil {
			collect("bus router", <-c.busDone)
			c.busDone = nil
		}
		c.bus = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.dispatcher != nil {
		collect("close dispatcher", c.dispatcher.Close())
		c.dispatcher = nil
	}
	if c.conn != nil {
		collect("close database", c.conn.Close())
		c.conn = nil
	}
	return errors.Join(errs...)
}

// Ready reports whether Start completed and Close has not run
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health checks each component; a nil value means healthy.
func (c *Container) Health(ctx context.Context) map[string]error {
	notReady := errors.New("not initialized")
	status := map[string]error{
		"database": notReady,
		"workers":  notReady,
		"bus":      notReady,
	}

	if c.conn != nil {
		if err := c.conn.PingContext(ctx); err != nil {
			status["database"] = fmt.Errorf("ping failed: %w", err)
		} else {
			status["database"] = nil
		}
	}

	if c.workers != nil {
		if c.workers.Manager.IsRunning() {
			status["workers"] = nil
		} else {
			status["workers"] = fmt.Errorf("stopped (%d registered)", c.workers.Manager.GetWorkerCount())
		}
		for name, err := range c.workers.Manager.Health() {
			status["worker:"+name] = err
		}
	}

	if c.bus != nil {
		select {
		case <-c.bus.Running():
			status["bus"] = nil
		default:
			status["bus"] = errors.New("router not running")
		}
	}

	return status
}

// initMetrics registers the collectors on a private registry
func (c *Container) initMetrics() error {
	m, err := ProvideMetrics(&c.config.Metrics, c.repositories.Outbox, c.logger)
	if err != nil {
		return err
	}
	c.metrics = m
	return nil
}

// initDatabase opens SQLite, migrates it and builds the repositories
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.conn = dbBundle.Conn
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}

	c.repositories = repos
	return nil
}

// initWorkflow builds the rule evaluator over the employee directory, seeds
// the definition store and creates the engine.
func (c *Container) initWorkflow() error {
	c.evaluator = rule.NewEvaluator(c.repositories.Directory)

	defs, err := ProvideDefinitions(c.ctx, &DefinitionDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Evaluator: c.evaluator,
		SeedPath:  c.config.Definitions.SeedPath,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.definitions = defs

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:       c.repositories,
		Definitions: c.definitions,
		Evaluator:   c.evaluator,
		TxManager:   c.db,
		Metrics:     c.metrics,
		EngineCfg:   &c.config.Engine,
		OnCommit:    c.wakeRelay,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine

	c.exporter = spreadsheet.NewAuditExporter(c.config.Export.FontName, c.logger)
	return nil
}

// initDispatcher creates the dispatcher and registers the event consumers.
func (c *Container) initDispatcher() error {
	disp, err := ProvideDispatcher(c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	return RegisterConsumers(&ConsumerDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Lark:       ProvideLarkClient(&c.config.Lark, c.logger),
		Logger:     c.logger,
	})
}

// initBus starts the bus router and waits until it is subscribed, so the
// relay never publishes into a router without handlers.
func (c *Container) initBus() error {
	bus, err := ProvideBus(&c.config.Bus, c.dispatcher, c.metrics, c.logger)
	if err != nil {
		return err
	}
	c.bus = bus

	c.busDone = make(chan error, 1)
	go func() {
		c.busDone <- bus.Run(c.ctx)
	}()

	select {
	case <-bus.Running():
		return nil
	case err := <-c.busDone:
		c.busDone = nil
		return fmt.Errorf("bus router exited: %w", err)
	case <-time.After(busStartTimeout):
		return fmt.Errorf("bus router did not start within %s", busStartTimeout)
	}
}

// initWorkers registers the relay and sweeper (and the Lark listener when
// card actions are on) and starts them.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Config:  c.config,
		Repos:   c.repositories,
		Engine:  c.workflow,
		Bus:     c.bus,
		Metrics: c.metrics,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.Manager.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.relay.Store(workers.Relay)

	return nil
}

// wakeRelay lets freshly committed events skip the rest of the poll interval
func (c *Container) wakeRelay() {
	if r := c.relay.Load(); r != nil {
		r.Notify()
	}
}

// DB returns the transaction manager
func (c *Container) DB() port.TransactionManager { return c.db }

// Repositories exposes the SQLite repositories, mainly for tests and the CLI
func (c *Container) Repositories() *RepositoryBundle { return c.repositories }

func (c *Container) Definitions() definition.Store { return c.definitions }
func (c *Container) Dispatcher() dispatcher.Dispatcher { return c.dispatcher }
func (c *Container) WorkflowEngine() workflow.WorkflowEngine { return c.workflow }
func (c *Container) Exporter() port.AuditExporter { return c.exporter }

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (c *Container) Gatherer() prometheus.Gatherer {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Registry
}

// Workers returns the worker manager once Start has built it
func (c *Container) Workers() *worker.WorkerManager {
	if c.workers == nil {
		return nil
	}
	return c.workers.Manager
}

// Relay returns the outbox relay once Start has built it
func (c *Container) Relay() *worker.OutboxRelay {
	if c.workers == nil {
		return nil
	}
	return c.workers.Relay
}

func (c *Container) Logger() *zap.Logger { return c.logger }
func (c *Container) Config() *Config { return c.config }

// HTTPLogger adapts the container logger to the HTTP layer's key/value logger.
func (c *Container) HTTPLogger() *KeyValueLogger {
	return &KeyValueLogger{sugar: c.logger.Named("http").Sugar()}
}

// KeyValueLogger forwards alternating key/value pairs to zap's sugared logger
type KeyValueLogger struct {
	sugar *zap.SugaredLogger
}

func (l *KeyValueLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *KeyValueLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
