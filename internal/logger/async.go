package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from I/O with a buffered channel
// drained by a single background worker. Records are dropped, not blocked
// on, when the buffer is full.
type AsyncHandler struct {
	inner   slog.Handler
	ch      chan slog.Record
	wg      *sync.WaitGroup
	dropped *atomic.Int64
}

// NewAsyncHandler wraps inner with a buffer of the given capacity.
func NewAsyncHandler(inner slog.Handler, capacity int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		ch:      make(chan slog.Record, capacity),
		wg:      &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	h.wg.Add(1)
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer h.wg.Done()
	for rec := range h.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it if the buffer is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.ch <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same buffer over a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), ch: h.ch, wg: h.wg, dropped: h.dropped}
}

// WithGroup returns a handler sharing the same buffer over a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), ch: h.ch, wg: h.wg, dropped: h.dropped}
}

// Dropped returns the number of records dropped due to a full buffer.
func (h *AsyncHandler) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops accepting records and waits for the worker to drain.
func (h *AsyncHandler) Close() {
	close(h.ch)
	h.wg.Wait()
}
