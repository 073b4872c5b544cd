package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler records how many records reach the inner handler.
type captureHandler struct {
	mu    sync.Mutex
	count int
	delay time.Duration
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, _ slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) handled() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func record() slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0)
}

func TestAsyncHandlerDelivers(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 16, 1)

	if err := ah.Handle(context.Background(), record()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ah.Close()

	if got := inner.handled(); got != 1 {
		t.Fatalf("handled = %d, want 1", got)
	}
}

func TestAsyncHandlerCloseDrainsBacklog(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 500, 3)

	const total = 300
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range total / 10 {
				_ = ah.Handle(context.Background(), record())
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.handled(); got != total {
		t.Fatalf("handled = %d, want %d", got, total)
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	inner := &captureHandler{delay: 20 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 30 {
		_ = ah.Handle(context.Background(), record())
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected drops on a full channel")
	}
	if got := inner.handled(); got+int(ah.DroppedCount()) != 30 {
		t.Fatalf("handled %d + dropped %d != 30", got, ah.DroppedCount())
	}
}

func TestAsyncHandlerWithAttrsSharesChannel(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 16, 1)
	forked := ah.WithAttrs([]slog.Attr{slog.String("k", "v")})

	_ = forked.Handle(context.Background(), record())
	ah.Close()

	if got := inner.handled(); got != 1 {
		t.Fatalf("handled = %d, want 1", got)
	}
}
