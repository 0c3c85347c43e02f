package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

func startBus(t *testing.T, d dispatcher.Dispatcher, opts ...Option) *Bus {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	cfg.MaxRetryWait = 5 * time.Millisecond

	bus, err := NewBus(cfg, d, zap.NewNop(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = bus.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
	})

	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return bus
}

func outboxFor(t *testing.T, evt *event.Event) *entity.OutboxMessage {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return &entity.OutboxMessage{
		ID:           evt.ID,
		EventType:    string(evt.Type),
		InstanceID:   evt.InstanceID,
		WorkflowType: evt.WorkflowType,
		Payload:      payload,
	}
}

func TestBus_DeliversToDispatcher(t *testing.T) {
	d := dispatcher.NewDispatcher()
	received := make(chan *event.Event, 1)
	require.NoError(t, d.Subscribe(dispatcher.AllEvents(entity.WorkflowTypeTravelRequest), "collector", func(ctx context.Context, evt *event.Event) error {
		received <- evt
		return nil
	}))

	bus := startBus(t, d)

	evt := event.NewEvent(event.TypeApproved, "wf-1", entity.WorkflowTypeTravelRequest,
		map[string]interface{}{event.KeyEntityID: "tr-1"}, time.Now().UTC())
	require.NoError(t, bus.Publish(context.Background(), outboxFor(t, evt)))

	select {
	case got := <-received:
		assert.Equal(t, evt.ID, got.ID)
		assert.Equal(t, event.TypeApproved, got.Type)
		assert.Equal(t, "tr-1", got.GetPayloadString(event.KeyEntityID))
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBus_PublishReportsConsumerFailure(t *testing.T) {
	d := dispatcher.NewDispatcher()
	var attempts atomic.Int32
	require.NoError(t, d.Subscribe(dispatcher.AllEvents(dispatcher.Any), "flaky", func(ctx context.Context, evt *event.Event) error {
		attempts.Add(1)
		return errors.New("consumer down")
	}))

	rejected := make(chan string, 1)
	bus := startBus(t, d, WithRejectHook(func(msg *message.Message, err error) {
		rejected <- msg.Metadata.Get(MetaInstanceID)
	}))

	evt := event.NewEvent(event.TypeRejected, "wf-2", entity.WorkflowTypeLeaveRequest, nil, time.Now().UTC())
	err := bus.Publish(context.Background(), outboxFor(t, evt))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer down")
	assert.Equal(t, int32(DefaultConfig().MaxRetries+1), attempts.Load())

	select {
	case id := <-rejected:
		assert.Equal(t, "wf-2", id)
	default:
		t.Fatal("reject hook was not called")
	}

	// the same event can be offered again once the consumer is back
	err = bus.Publish(context.Background(), outboxFor(t, evt))
	assert.Error(t, err)
	assert.Equal(t, int32(2*(DefaultConfig().MaxRetries+1)), attempts.Load())
}

func TestBus_PublishWithoutConsumersFails(t *testing.T) {
	bus, err := NewBus(DefaultConfig(), dispatcher.NewDispatcher(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	evt := event.NewEvent(event.TypeApproved, "wf-4", entity.WorkflowTypeLeaveRequest, nil, time.Now().UTC())
	err = bus.Publish(context.Background(), outboxFor(t, evt))
	assert.ErrorContains(t, err, "reached no consumer")
}

func TestBus_RecoversFromPanickingHandler(t *testing.T) {
	d := dispatcher.NewDispatcher()
	var calls atomic.Int32
	require.NoError(t, d.Subscribe(dispatcher.AllEvents(dispatcher.Any), "broken", func(ctx context.Context, evt *event.Event) error {
		if calls.Add(1) == 1 {
			panic("first delivery explodes")
		}
		return nil
	}))

	bus := startBus(t, d)

	evt := event.NewEvent(event.TypeSubmitted, "wf-3", entity.WorkflowTypeOvertimeClaim, nil, time.Now().UTC())
	require.NoError(t, bus.Publish(context.Background(), outboxFor(t, evt)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestBus_RejectsCancelledContext(t *testing.T) {
	bus := startBus(t, dispatcher.NewDispatcher())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Publish(ctx, &entity.OutboxMessage{ID: "x", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, context.Canceled)
}
