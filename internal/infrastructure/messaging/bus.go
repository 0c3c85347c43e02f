// Package messaging carries outbox events to in-process consumers over watermill.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// TopicEvents carries every outbox event
const TopicEvents = "workflow.events"

// Metadata keys set on every published message
const (
	MetaEventType    = "event_type"
	MetaInstanceID   = "instance_id"
	MetaWorkflowType = "workflow_type"
)

// Config tunes delivery to consumers
type Config struct {
	OutputBuffer  int64
	MaxRetries    int
	RetryInterval time.Duration
	MaxRetryWait  time.Duration
	CloseTimeout  time.Duration
}

// DefaultConfig returns the delivery settings used when none are configured
func DefaultConfig() Config {
	return Config{
		OutputBuffer:  64,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		MaxRetryWait:  2 * time.Second,
		CloseTimeout:  10 * time.Second,
	}
}

// Bus publishes outbox events and routes them to the dispatcher.
// Publish returns the consumers' final result: nil once they handled the
// event, an error when retries ran out or nothing was subscribed. The
// message itself is always acked, so the outbox row stays the only record
// of an undelivered event.
type Bus struct {
	pubsub     *gochannel.GoChannel
	router     *message.Router
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	rejected   func(msg *message.Message, err error)

	mu      sync.Mutex
	waiting map[string]chan error
}

// Option configures the bus
type Option func(*Bus)

// WithRejectHook is called for every message whose consumers still failed
// after the retries
func WithRejectHook(fn func(msg *message.Message, err error)) Option {
	return func(b *Bus) {
		b.rejected = fn
	}
}

// NewBus wires the pub/sub, the router and its middleware
func NewBus(cfg Config, d dispatcher.Dispatcher, logger *zap.Logger, opts ...Option) (*Bus, error) {
	wmLogger := NewZapLoggerAdapter(logger.Named("watermill"))

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.OutputBuffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		},
		wmLogger,
	)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create message router: %w", err)
	}

	b := &Bus{
		pubsub:     pubsub,
		router:     router,
		dispatcher: d,
		logger:     logger,
		waiting:    make(map[string]chan error),
	}
	for _, opt := range opts {
		opt(b)
	}

	router.AddMiddleware(
		b.settle,
		middleware.Retry{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInterval,
			MaxInterval:     cfg.MaxRetryWait,
			Multiplier:      2,
			Logger:          wmLogger,
		}.Middleware,
		middleware.Recoverer,
	)

	router.AddNoPublisherHandler("workflow-dispatcher", TopicEvents, pubsub, b.handle)

	return b, nil
}

// Run starts the router and blocks until ctx is cancelled or Close is called
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once the router's handlers are subscribed. Messages
// published before that have no subscriber and are dropped.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Publish implements port.EventPublisher
func (b *Bus) Publish(ctx context.Context, msg *entity.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	b.mu.Lock()
	if _, busy := b.waiting[msg.ID]; busy {
		b.mu.Unlock()
		return fmt.Errorf("event %s is already being published", msg.ID)
	}
	b.waiting[msg.ID] = result
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiting, msg.ID)
		b.mu.Unlock()
	}()

	wm := message.NewMessage(msg.ID, msg.Payload)
	wm.Metadata.Set(MetaEventType, msg.EventType)
	wm.Metadata.Set(MetaInstanceID, msg.InstanceID)
	wm.Metadata.Set(MetaWorkflowType, msg.WorkflowType)

	if err := b.pubsub.Publish(TopicEvents, wm); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.EventType, err)
	}

	// publishing blocks until the subscriber acks, and settle reports
	// before the ack, so an empty channel means nobody received it
	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("consumers failed on %s %s: %w", msg.EventType, msg.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("event %s %s reached no consumer", msg.EventType, msg.ID)
	}
}

// Close stops the router and the pub/sub
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		b.logger.Error("Failed to close message router", zap.Error(err))
	}
	return b.pubsub.Close()
}

func (b *Bus) handle(msg *message.Message) error {
	var evt event.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return b.dispatcher.Dispatch(msg.Context(), &evt)
}

// settle is the outermost middleware. It acks every message and hands the
// consumers' final error to the Publish call waiting on it.
func (b *Bus) settle(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err != nil {
			b.logger.Warn("Event consumers failed after retries, leaving it to the outbox",
				zap.String("message_id", msg.UUID),
				zap.String("event_type", msg.Metadata.Get(MetaEventType)),
				zap.String("instance_id", msg.Metadata.Get(MetaInstanceID)),
				zap.Error(err))
			if b.rejected != nil {
				b.rejected(msg, err)
			}
		}

		b.mu.Lock()
		if result, ok := b.waiting[msg.UUID]; ok {
			select {
			case result <- err:
			default:
			}
		}
		b.mu.Unlock()

		return produced, nil
	}
}

// Verify interface compliance
var _ port.EventPublisher = (*Bus)(nil)
