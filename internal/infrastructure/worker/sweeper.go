package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/workflow"
)

// DefaultSweepSchedule runs the timeout sweep once a minute
const DefaultSweepSchedule = "@every 1m"

// Sweeper is the part of the engine the timeout sweeper drives
type Sweeper interface {
	TimeoutSweep(ctx context.Context) (workflow.SweepResult, error)
}

// TimeoutSweeper runs the engine's timeout sweep on a cron schedule.
// A run that is still going when the next one is due is skipped.
type TimeoutSweeper struct {
	engine   Sweeper
	schedule string
	timeout  time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	isRunning bool
	last      workflow.SweepResult
	lastRun   time.Time
	lastErr   error
}

// NewTimeoutSweeper creates a sweeper. schedule accepts standard five-field
// cron specs, an optional leading seconds field, and descriptors such as
// "@every 30s".
func NewTimeoutSweeper(engine Sweeper, schedule string, timeout time.Duration, logger *zap.Logger) (*TimeoutSweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := parser().Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &TimeoutSweeper{
		engine:   engine,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

func parser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Start schedules the sweep
func (s *TimeoutSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("timeout sweeper is already running")
	}

	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithParser(parser()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule timeout sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.isRunning = true
	s.logger.Info("TimeoutSweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish
func (s *TimeoutSweeper) Stop() error {
	s.mu.Lock()
	c := s.cron
	running := s.isRunning
	s.isRunning = false
	s.mu.Unlock()

	if !running {
		return nil
	}
	<-c.Stop().Done()
	s.logger.Info("TimeoutSweeper stopped")
	return nil
}

// Name returns the worker name for identification
func (s *TimeoutSweeper) Name() string {
	return "TimeoutSweeper"
}

// RunOnce performs a single sweep
func (s *TimeoutSweeper) RunOnce(ctx context.Context) (workflow.SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.engine.TimeoutSweep(ctx)

	s.mu.Lock()
	s.last = result
	s.lastRun = started
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		return result, fmt.Errorf("timeout sweep failed: %w", err)
	}
	if result.Scanned > 0 {
		s.logger.Info("Timeout sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("escalated", result.Escalated),
			zap.Int("auto_approved", result.AutoApproved),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
			zap.Duration("elapsed", time.Since(started)))
	}
	return result, nil
}

// LastRun returns the outcome of the most recent sweep
func (s *TimeoutSweeper) LastRun() (workflow.SweepResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastRun
}

// Healthy returns the error of the most recent sweep, if it failed
func (s *TimeoutSweeper) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *TimeoutSweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Scheduled timeout sweep failed", zap.Error(err))
	}
}

// cronLogger routes cron's own logging through zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

var (
	_ cron.Logger   = cronLogger{}
	_ HealthChecker = (*TimeoutSweeper)(nil)
	_ HealthChecker = (*OutboxRelay)(nil)
)
