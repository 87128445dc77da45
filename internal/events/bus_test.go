package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestEmitSyncRunsAllHandlers(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32

	bus.Subscribe(EventCombatReset, "a", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(EventCombatReset, "b", func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("boom")
	})
	bus.Subscribe(EventCombatReset, "c", func(context.Context, Event) error {
		calls.Add(1)
		panic("handler bug")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventCombatReset})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("EmitSync err = %v, want boom", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestEmitAsyncCompletesBeforeStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventDamageReceived, "count", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		bus.Emit(context.Background(), Event{Type: EventDamageReceived})
	}
	bus.Stop()

	if calls.Load() != 10 {
		t.Fatalf("calls = %d, want 10", calls.Load())
	}

	bus.Emit(context.Background(), Event{Type: EventDamageReceived})
	if err := bus.EmitSync(context.Background(), Event{Type: EventDamageReceived}); err != nil {
		t.Fatalf("EmitSync after stop: %v", err)
	}
	if calls.Load() != 10 {
		t.Fatalf("handler ran after stop")
	}
	bus.Stop()

	select {
	case <-bus.StopCh():
	default:
		t.Fatalf("stop channel not closed")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventShutdown, "x", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventShutdown, "y", func(context.Context, Event) error { return nil })
	bus.Unsubscribe(EventShutdown, "x")
	if n := bus.HandlerCount(EventShutdown); n != 1 {
		t.Fatalf("handlers = %d, want 1", n)
	}
}
