package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

func newEvent(eventType event.Type) *event.Event {
	return event.NewEvent(eventType, "inst-1", entity.WorkflowTypeTravelRequest, nil, time.Now())
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

type outcome struct {
	handler string
	err     error
}

type recordingObserver struct {
	mu   sync.Mutex
	done []outcome
}

func (o *recordingObserver) HandlerDone(handler string, evt *event.Event, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, outcome{handler, err})
}

func TestSubscribe(t *testing.T) {
	d := NewDispatcher()
	route := AllEvents(entity.WorkflowTypeTravelRequest)

	if err := d.Subscribe(route, "request_status", noop); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := d.Subscribe(route, "request_status", noop); err == nil {
		t.Error("a second handler with the same name on a route must be refused")
	}
	if err := d.Subscribe(AllEvents(entity.WorkflowTypeLoanApplication), "request_status", noop); err != nil {
		t.Errorf("the same name on another route is fine: %v", err)
	}
	if err := d.Subscribe(route, "", noop); err == nil {
		t.Error("an unnamed handler must be refused")
	}
	if err := d.Subscribe(route, "nil-handler", nil); err == nil {
		t.Error("a nil handler must be refused")
	}

	handlers := d.Handlers(route)
	if len(handlers) != 1 || handlers[0].Name != "request_status" || handlers[0].Handler != nil {
		t.Errorf("Handlers() = %+v, want one entry without the func", handlers)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	route := On(entity.WorkflowTypeTravelRequest, event.TypeApproved)

	var calls []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		_ = d.Subscribe(route, name, func(ctx context.Context, evt *event.Event) error {
			calls = append(calls, name)
			return nil
		})
	}

	if !d.Unsubscribe(route, "b") {
		t.Fatal("b should have been removed")
	}
	if d.Unsubscribe(route, "b") {
		t.Error("removing twice should report false")
	}

	if err := d.Dispatch(context.Background(), newEvent(event.TypeApproved)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if fmt.Sprint(calls) != "[a c]" {
		t.Errorf("handlers ran as %v, want [a c]", calls)
	}

	d.Unsubscribe(route, "a")
	d.Unsubscribe(route, "c")
	if got := d.Handlers(route); len(got) != 0 {
		t.Errorf("expected an empty route, got %v", got)
	}
}

func TestDispatch_RunsEveryHandler(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	obs := &recordingObserver{}
	d := NewDispatcher(WithLogger(zap.New(core)), WithObserver(obs))
	route := AllEvents(entity.WorkflowTypeTravelRequest)

	boom := errors.New("lark unavailable")
	secondRan := false
	_ = d.Subscribe(route, "notifier", func(ctx context.Context, evt *event.Event) error { return boom })
	_ = d.Subscribe(route, "request_status", func(ctx context.Context, evt *event.Event) error {
		secondRan = true
		return nil
	})

	err := d.Dispatch(context.Background(), newEvent(event.TypeRejected))
	if !errors.Is(err, boom) {
		t.Fatalf("expected the handler error to be joined, got %v", err)
	}
	if !secondRan {
		t.Error("a failing handler must not stop the others")
	}
	if logs.FilterMessage("Handler failed").Len() != 1 {
		t.Errorf("expected one failure log, got %d", logs.Len())
	}

	if len(obs.done) != 2 || obs.done[0].handler != "notifier" || obs.done[0].err == nil || obs.done[1].err != nil {
		t.Errorf("observer saw %+v", obs.done)
	}
}

func TestDispatch_RecoversPanics(t *testing.T) {
	d := NewDispatcher()
	_ = d.Subscribe(AllEvents(Any), "broken", func(ctx context.Context, evt *event.Event) error {
		panic("nil map")
	})

	err := d.Dispatch(context.Background(), newEvent(event.TypeSubmitted))
	if err == nil {
		t.Fatal("a panicking handler should surface as an error")
	}
}

func TestDispatch_NoHandlers(t *testing.T) {
	d := NewDispatcher()
	if err := d.Dispatch(context.Background(), newEvent(event.TypeEscalated)); err != nil {
		t.Errorf("an event nobody listens to is not an error: %v", err)
	}
}

func TestClose(t *testing.T) {
	d := NewDispatcher()

	started := make(chan struct{})
	release := make(chan struct{})
	_ = d.Subscribe(AllEvents(Any), "slow", func(ctx context.Context, evt *event.Event) error {
		close(started)
		<-release
		return nil
	})

	dispatched := make(chan error, 1)
	go func() { dispatched <- d.Dispatch(context.Background(), newEvent(event.TypeApproved)) }()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a dispatch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-dispatched; err != nil {
		t.Fatalf("in-flight dispatch failed: %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := d.Dispatch(context.Background(), newEvent(event.TypeApproved)); !errors.Is(err, ErrClosed) {
		t.Errorf("dispatch after close = %v, want ErrClosed", err)
	}
	if err := d.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second close = %v, want ErrClosed", err)
	}
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var mu sync.Mutex
	seen := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = d.Subscribe(AllEvents(Any), fmt.Sprintf("h-%d", i), func(ctx context.Context, evt *event.Event) error {
				mu.Lock()
				seen++
				mu.Unlock()
				return nil
			})
		}(i)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvent(event.TypeSubmitted))
		}()
	}
	wg.Wait()

	if got := len(d.Handlers(AllEvents(Any))); got != 20 {
		t.Errorf("expected 20 handlers, got %d", got)
	}
}

func TestRouting(t *testing.T) {
	t.Run("matches workflow type and wildcards", func(t *testing.T) {
		d := NewDispatcher()
		var got []string
		record := func(name string) Handler {
			return func(ctx context.Context, evt *event.Event) error {
				got = append(got, name)
				return nil
			}
		}

		_ = d.Subscribe(AllEvents(Any), "audit", record("audit"))
		_ = d.Subscribe(On(Any, event.TypeApproved), "any-approved", record("any-approved"))
		_ = d.Subscribe(AllEvents(entity.WorkflowTypeTravelRequest), "travel-all", record("travel-all"))
		_ = d.Subscribe(On(entity.WorkflowTypeTravelRequest, event.TypeApproved), "exact", record("exact"))
		_ = d.Subscribe(On(entity.WorkflowTypeLoanApplication, event.TypeApproved), "loan", record("loan"))

		if err := d.Dispatch(context.Background(), newEvent(event.TypeApproved)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}

		want := []string{"exact", "travel-all", "any-approved", "audit"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("handlers ran as %v, want %v", got, want)
		}
	})

	t.Run("ignores other workflow types", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		_ = d.Subscribe(On(entity.WorkflowTypeOvertimeClaim, event.TypeApproved), "overtime", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeApproved)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if called {
			t.Error("overtime handler must not see travel events")
		}
	})
}
