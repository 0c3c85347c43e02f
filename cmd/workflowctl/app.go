package main

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/internal/container"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	"github.com/garyjia/approval-engine/pkg/database"
	"github.com/garyjia/approval-engine/pkg/utils"
)

// app holds what a command needs from the database. Events written by
// commands stay in the outbox until the server's relay delivers them.
type app struct {
	cfg         *container.Config
	logger      *zap.Logger
	conn        *database.DB
	tx          port.TransactionManager
	repos       *container.RepositoryBundle
	definitions definition.Store
	engine      workflow.WorkflowEngine
}

// openApp loads configuration and opens the database. Migrations follow the
// database.auto_migrate setting unless migrate is false.
func openApp(migrate bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := utils.NewCLILogger(logLevel)
	if err != nil {
		return nil, err
	}

	ccfg := cfg.ToContainerConfig()
	dbCfg := ccfg.Database
	dbCfg.AutoMigrate = dbCfg.AutoMigrate && migrate

	dbBundle, err := container.ProvideDatabase(&dbCfg, logger)
	if err != nil {
		return nil, err
	}
	repos, err := container.ProvideRepositories(dbBundle.TransactionMgr, logger)
	if err != nil {
		dbBundle.Conn.Close()
		return nil, err
	}

	evaluator := rule.NewEvaluator(repos.Directory)
	defs := definition.NewStore(repos.Definitions, dbBundle.TransactionMgr,
		definition.WithLogger(logger),
		definition.WithRuleSupport(evaluator.Supports))

	engine, err := container.ProvideWorkflowEngine(&container.WorkflowDeps{
		Repos:       repos,
		Definitions: defs,
		Evaluator:   evaluator,
		TxManager:   dbBundle.TransactionMgr,
		EngineCfg:   &ccfg.Engine,
		Logger:      logger,
	})
	if err != nil {
		dbBundle.Conn.Close()
		return nil, err
	}

	return &app{
		cfg:         ccfg,
		logger:      logger,
		conn:        dbBundle.Conn,
		tx:          dbBundle.TransactionMgr,
		repos:       repos,
		definitions: defs,
		engine:      engine,
	}, nil
}

func (a *app) Close() {
	a.conn.Close()
	a.logger.Sync()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
