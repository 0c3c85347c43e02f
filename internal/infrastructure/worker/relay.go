package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// RelayConfig tunes outbox delivery
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// DefaultRelayConfig returns the delivery settings used when none are configured
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  10,
		BaseBackoff:  time.Second,
		MaxBackoff:   5 * time.Minute,
	}
}

// RelayObserver is told about every delivery outcome
type RelayObserver interface {
	Delivered(eventType string)
	Failed(eventType string, dead bool)
}

// RelayResult summarizes one relay pass
type RelayResult struct {
	Fetched   int `json:"fetched"`
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Dead      int `json:"dead"`
}

// OutboxRelay publishes outbox events in commit order. A failed publish is
// retried with exponential backoff until MaxAttempts, then parked as FAILED.
type OutboxRelay struct {
	outbox    port.OutboxRepository
	publisher port.EventPublisher
	clock     port.Clock
	cfg       RelayConfig
	observer  RelayObserver
	logger    *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	wake      chan struct{}
	lastErr   error
}

// NewOutboxRelay creates a relay
func NewOutboxRelay(outbox port.OutboxRepository, publisher port.EventPublisher, clock port.Clock, cfg RelayConfig, logger *zap.Logger) *OutboxRelay {
	defaults := DefaultRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}

	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// SetObserver registers the delivery observer
func (r *OutboxRelay) SetObserver(observer RelayObserver) {
	r.observer = observer
}

// Start launches the polling loop
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("outbox relay is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.isRunning = true

	r.logger.Info("OutboxRelay started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Int("max_attempts", r.cfg.MaxAttempts))

	go r.loop(loopCtx)
	return nil
}

// Stop ends the loop after the current pass
func (r *OutboxRelay) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("OutboxRelay stopped")
	return nil
}

// Name returns the worker name for identification
func (r *OutboxRelay) Name() string {
	return "OutboxRelay"
}

// Healthy returns the error of the last relay pass, if it failed
func (r *OutboxRelay) Healthy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Notify asks the loop to poll now instead of waiting for the next tick
func (r *OutboxRelay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *OutboxRelay) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		_, err := r.RelayOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Error("Outbox relay pass failed", zap.Error(err))
		}
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// RelayOnce publishes one batch of due events. A failure that will be
// retried ends the pass.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (RelayResult, error) {
	var result RelayResult

	msgs, err := r.outbox.FetchPending(ctx, r.clock.Now(), r.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to fetch outbox: %w", err)
	}
	result.Fetched = len(msgs)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if pubErr := r.publisher.Publish(ctx, msg); pubErr != nil {
			dead, err := r.fail(ctx, msg, pubErr)
			if err != nil {
				return result, err
			}
			if dead {
				result.Dead++
				continue
			}
			result.Retrying++
			break
		}

		if err := r.outbox.MarkDelivered(ctx, msg.ID, r.clock.Now()); err != nil {
			return result, fmt.Errorf("failed to mark %s delivered: %w", msg.ID, err)
		}
		result.Delivered++
		if r.observer != nil {
			r.observer.Delivered(msg.EventType)
		}
	}

	if result.Delivered > 0 || result.Retrying > 0 || result.Dead > 0 {
		r.logger.Debug("Outbox relay pass",
			zap.Int("fetched", result.Fetched),
			zap.Int("delivered", result.Delivered),
			zap.Int("retrying", result.Retrying),
			zap.Int("dead", result.Dead))
	}
	return result, nil
}

func (r *OutboxRelay) fail(ctx context.Context, msg *entity.OutboxMessage, pubErr error) (bool, error) {
	attempts := msg.Attempts + 1
	dead := attempts >= r.cfg.MaxAttempts
	next := r.clock.Now().Add(r.Backoff(attempts))

	if dead {
		r.logger.Error("Outbox event exhausted its delivery attempts",
			zap.String("event_id", msg.ID),
			zap.String("event_type", msg.EventType),
			zap.String("instance_id", msg.InstanceID),
			zap.Int("attempts", attempts),
			zap.Error(pubErr))
	} else {
		r.logger.Warn("Outbox event delivery failed, will retry",
			zap.String("event_id", msg.ID),
			zap.String("event_type", msg.EventType),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(pubErr))
	}

	if err := r.outbox.MarkFailed(ctx, msg.ID, pubErr.Error(), next, dead); err != nil {
		return dead, fmt.Errorf("failed to record delivery failure of %s: %w", msg.ID, err)
	}
	if r.observer != nil {
		r.observer.Failed(msg.EventType, dead)
	}
	return dead, nil
}

// Backoff returns the wait before the next attempt after the given number
// of failed attempts: BaseBackoff doubled per attempt, capped at MaxBackoff.
func (r *OutboxRelay) Backoff(attempts int) time.Duration {
	wait := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return wait
}
