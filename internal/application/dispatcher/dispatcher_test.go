package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(msg, keysAndValues))
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newTestEvent() *event.Event {
	return event.NewEvent(event.TypeTriggerStatusChanged, "workflow_trigger", "t-1", map[string]interface{}{"status": "completed"})
}

func TestSubscribe(t *testing.T) {
	d := NewDispatcher()
	d.Subscribe(event.TypeTriggerStatusChanged, func(ctx context.Context, evt *event.Event) error { return nil })
	d.Subscribe(event.TypeTriggerStatusChanged, func(ctx context.Context, evt *event.Event) error { return nil })

	handlers := d.ListHandlers(event.TypeTriggerStatusChanged)
	if len(handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(handlers))
	}
	if handlers[0].Name == handlers[1].Name {
		t.Errorf("generated handler names should differ, both %q", handlers[0].Name)
	}
	if handlers[0].Handler != nil {
		t.Error("ListHandlers should not expose handler funcs")
	}
}

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string
		d.SubscribeNamed(event.TypeTriggerStatusChanged, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.SubscribeNamed(event.TypeTriggerStatusChanged, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		if err := d.Dispatch(context.Background(), newTestEvent()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("unexpected order: %v", order)
		}
	})

	t.Run("stops at first error", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		boom := errors.New("boom")
		called := false
		d.SubscribeNamed(event.TypeTriggerStatusChanged, "fails", func(ctx context.Context, evt *event.Event) error { return boom })
		d.SubscribeNamed(event.TypeTriggerStatusChanged, "skipped", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newTestEvent())
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if called {
			t.Error("second handler should not run")
		}
		if logger.ErrorCount() != 1 {
			t.Errorf("expected 1 error log, got %d", logger.ErrorCount())
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeTriggerStatusChanged, func(ctx context.Context, evt *event.Event) error {
			panic("handler exploded")
		})

		err := d.Dispatch(context.Background(), newTestEvent())
		if err == nil {
			t.Fatal("expected error from panicking handler")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("handlers outlive cancelled context", func(t *testing.T) {
		d := NewDispatcher()
		var ran atomic.Bool
		release := make(chan struct{})
		d.Subscribe(event.TypeTriggerStatusChanged, func(ctx context.Context, evt *event.Event) error {
			<-release
			if ctx.Err() == nil {
				ran.Store(true)
			}
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newTestEvent())
		cancel()
		close(release)

		if err := d.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if !ran.Load() {
			t.Error("handler should see a live context")
		}
	})

	t.Run("closed dispatcher drops events", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var count atomic.Int32
		d.Subscribe(event.TypeTriggerStatusChanged, func(ctx context.Context, evt *event.Event) error {
			count.Add(1)
			return nil
		})
		_ = d.Close()

		d.DispatchAsync(context.Background(), newTestEvent())
		time.Sleep(10 * time.Millisecond)

		if count.Load() != 0 {
			t.Error("handler should not run after close")
		}
		if logger.ErrorCount() != 1 {
			t.Errorf("expected 1 error log, got %d", logger.ErrorCount())
		}
		if err := d.Dispatch(context.Background(), newTestEvent()); !errors.Is(err, ErrClosed) {
			t.Errorf("Dispatch() after close = %v, want ErrClosed", err)
		}
	})
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int64
	d.Subscribe(event.TypeDocumentGenerated, func(ctx context.Context, evt *event.Event) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.DispatchAsync(context.Background(), event.NewEvent(event.TypeDocumentGenerated, "document", "d", nil))
		}()
	}
	wg.Wait()
	_ = d.Close()

	if count.Load() != 50 {
		t.Errorf("expected 50 handler runs, got %d", count.Load())
	}
}
