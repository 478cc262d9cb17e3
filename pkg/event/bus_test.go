package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewInMemoryBus(t *testing.T) {
	bus := NewInMemoryBus()
	if bus == nil {
		t.Fatal("NewInMemoryBus returned nil")
	}

	if bus.subscriptions == nil {
		t.Error("Subscriptions map should be initialized")
	}

	if bus.bufferSize != 256 {
		t.Errorf("Expected default buffer size 256, got %d", bus.bufferSize)
	}

	if !bus.dropSlow {
		t.Error("Expected default dropSlow to be true")
	}
}

func TestNewInMemoryBus_WithOptions(t *testing.T) {
	bus := NewInMemoryBus(
		WithBufferSize(8),
		WithDropSlow(false),
	)

	if bus.bufferSize != 8 {
		t.Errorf("Expected buffer size 8, got %d", bus.bufferSize)
	}

	if bus.dropSlow {
		t.Error("Expected dropSlow to be false")
	}
}

func TestBus_PublishFiltered(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	timerSub, err := bus.Subscribe(ctx, Filter{Types: []string{"timer.*"}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitSub, err := bus.Subscribe(ctx, Filter{Sources: []string{"nanosleep"}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(ctx, Event{ID: "1", Type: TypeTimerFrame, Source: "timer"})
	bus.Publish(ctx, Event{ID: "2", Type: TypeWaitDecision, Source: "nanosleep"})

	select {
	case evt := <-timerSub.Events():
		if evt.ID != "1" {
			t.Errorf("Expected event 1 on timer subscription, got %s", evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for timer event")
	}

	select {
	case evt := <-waitSub.Events():
		if evt.ID != "2" {
			t.Errorf("Expected event 2 on wait subscription, got %s", evt.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for wait event")
	}

	if len(timerSub.Events()) != 0 || len(waitSub.Events()) != 0 {
		t.Error("Expected filters to keep unrelated events out")
	}
}

func TestBus_DropSlow(t *testing.T) {
	bus := NewInMemoryBus(WithBufferSize(1))
	defer bus.Close()

	ctx := context.Background()
	if _, err := bus.Subscribe(ctx, Filter{}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, Event{Type: TypeTimerDelay}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if got := bus.Dropped(); got != 4 {
		t.Errorf("Expected 4 dropped deliveries, got %d", got)
	}
}

func TestBus_BlockingRespectsContext(t *testing.T) {
	bus := NewInMemoryBus(WithBufferSize(1), WithDropSlow(false))
	defer bus.Close()

	if _, err := bus.Subscribe(context.Background(), Filter{}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	bus.Publish(context.Background(), Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	bus.Publish(ctx, Event{})
	if time.Since(start) > time.Second {
		t.Error("Expected a blocked publish to give up when its context ends")
	}
}

func TestBus_Closed(t *testing.T) {
	bus := NewInMemoryBus()
	sub, _ := bus.Subscribe(context.Background(), Filter{})
	bus.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("Expected subscription channel to be closed")
	}
	if err := bus.Publish(context.Background(), Event{}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe(context.Background(), Filter{}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}

func TestBus_SubscriptionClose(t *testing.T) {
	bus := NewInMemoryBus()
	defer bus.Close()

	sub, _ := bus.Subscribe(context.Background(), Filter{})
	sub.Close()

	if err := bus.Publish(context.Background(), Event{}); err != nil {
		t.Errorf("Publish after unsubscribe failed: %v", err)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewInMemoryBus(WithBufferSize(1000))
	defer bus.Close()

	sub, _ := bus.Subscribe(context.Background(), Filter{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(context.Background(), Event{Type: TypeTimerDelay})
			}
		}()
	}
	wg.Wait()

	if got := len(sub.Events()); got != 500 {
		t.Errorf("Expected 500 buffered events, got %d", got)
	}
}
