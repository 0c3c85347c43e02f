// Package dispatcher fans workflow events out to the consumers subscribed for
// their workflow type and event type.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

// ErrClosed is returned by Dispatch after Close
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher routes workflow events to the handlers subscribed for them
type Dispatcher interface {
	// Subscribe registers a named handler for a route. Names are unique per route.
	Subscribe(route Route, name string, handler Handler) error

	// Unsubscribe removes a handler by name and reports whether it existed
	Unsubscribe(route Route, name string) bool

	// Dispatch runs every matching handler in subscription order, most
	// specific route first. All handlers run; their errors are joined.
	Dispatch(ctx context.Context, evt *event.Event) error

	// Handlers lists the subscriptions of a route
	Handlers(route Route) []HandlerInfo

	// Close refuses further dispatches and waits for in-flight ones
	Close() error
}

// Observer is told how each handler invocation ended
type Observer interface {
	HandlerDone(handler string, evt *event.Event, elapsed time.Duration, err error)
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[Route][]HandlerInfo
	logger   *zap.Logger
	observer Observer

	// dispatches hold gate for reading; Close takes it for writing
	gate   sync.RWMutex
	closed bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger *zap.Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver reports every handler invocation to o
func WithObserver(o Observer) Option {
	return func(d *eventDispatcher) {
		d.observer = o
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[Route][]HandlerInfo),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(route Route, name string, handler Handler) error {
	if name == "" || handler == nil {
		return fmt.Errorf("subscription on %s needs a name and a handler", route)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.handlers[route] {
		if h.Name == name {
			return fmt.Errorf("handler %s is already subscribed to %s", name, route)
		}
	}
	d.handlers[route] = append(d.handlers[route], HandlerInfo{Name: name, Route: route, Handler: handler})

	d.logger.Debug("Handler subscribed",
		zap.String("route", route.String()),
		zap.String("handler", name))
	return nil
}

func (d *eventDispatcher) Unsubscribe(route Route, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[route]
	for i, h := range handlers {
		if h.Name != name {
			continue
		}
		d.handlers[route] = append(handlers[:i:i], handlers[i+1:]...)
		if len(d.handlers[route]) == 0 {
			delete(d.handlers, route)
		}
		return true
	}
	return false
}

func (d *eventDispatcher) match(evt *event.Event) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []HandlerInfo
	for _, route := range candidates(evt) {
		out = append(out, d.handlers[route]...)
	}
	return out
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.gate.RLock()
	defer d.gate.RUnlock()
	if d.closed {
		return ErrClosed
	}

	handlers := d.match(evt)
	if len(handlers) == 0 {
		d.logger.Debug("No handler for event",
			zap.String("event_type", evt.Type.String()),
			zap.String("workflow_type", evt.WorkflowType))
		return nil
	}

	var errs []error
	for _, info := range handlers {
		start := time.Now()
		err := d.invoke(ctx, evt, info)
		if d.observer != nil {
			d.observer.HandlerDone(info.Name, evt, time.Since(start), err)
		}
		if err != nil {
			d.logger.Warn("Handler failed",
				zap.String("handler", info.Name),
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.Type.String()),
				zap.String("instance_id", evt.InstanceID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) Handlers(route Route) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]HandlerInfo, len(d.handlers[route]))
	for i, h := range d.handlers[route] {
		out[i] = HandlerInfo{Name: h.Name, Route: h.Route, Description: h.Description}
	}
	return out
}

func (d *eventDispatcher) Close() error {
	d.gate.Lock()
	defer d.gate.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.logger.Info("Dispatcher closed")
	return nil
}

// invoke turns a handler panic into an error so the bus can retry the event
func (d *eventDispatcher) invoke(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logger.Error("Handler panicked",
				zap.String("handler", info.Name),
				zap.String("event_id", evt.ID),
				zap.Any("panic", r))
		}
	}()
	return info.Handler(ctx, evt)
}
