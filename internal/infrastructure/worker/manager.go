// Package worker runs the engine's background loops: outbox delivery and the
// stage timeout sweep.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNotRunning is reported by Health for a worker that is not started
var ErrNotRunning = errors.New("not running")

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// HealthChecker is implemented by workers that can report a failing loop
type HealthChecker interface {
	Healthy() error
}

// WorkerManager starts workers in registration order and stops them in reverse
type WorkerManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	workers []Worker
	started []Worker
	cancel  context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Names must be unique and registration is closed
// once the workers run.
func (m *WorkerManager) Register(w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started != nil {
		return fmt.Errorf("cannot register %s while workers are running", w.Name())
	}
	for _, existing := range m.workers {
		if existing.Name() == w.Name() {
			return fmt.Errorf("worker %s is already registered", w.Name())
		}
	}
	m.workers = append(m.workers, w)
	return nil
}

// StartAll starts every registered worker. When one fails the workers
// already started are stopped again and the error is returned.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started != nil {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	started := make([]Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			cancel()
			_ = m.stopInReverse(started)
			return fmt.Errorf("failed to start worker %s: %w", w.Name(), err)
		}
		started = append(started, w)
	}

	m.started = started
	m.cancel = cancel
	m.logger.Info("Workers started", zap.Strings("workers", names(started)))
	return nil
}

// StopAll stops the running workers; calling it again is a no-op
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started == nil {
		return nil
	}

	err := m.stopInReverse(m.started)
	m.cancel()
	m.started = nil
	m.cancel = nil
	return err
}

func (m *WorkerManager) stopInReverse(workers []Worker) error {
	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", workers[i].Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", workers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Health reports each registered worker by name: nil when it runs and its
// last pass succeeded.
func (m *WorkerManager) Health() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]error, len(m.workers))
	for _, w := range m.workers {
		switch {
		case m.started == nil:
			out[w.Name()] = ErrNotRunning
		case isHealthChecker(w):
			out[w.Name()] = w.(HealthChecker).Healthy()
		default:
			out[w.Name()] = nil
		}
	}
	return out
}

func isHealthChecker(w Worker) bool {
	_, ok := w.(HealthChecker)
	return ok
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started != nil
}

func names(workers []Worker) []string {
	out := make([]string, len(workers))
	for i, w := range workers {
		out[i] = w.Name()
	}
	return out
}
