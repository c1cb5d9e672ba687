package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// WritebackWorker applies cache and health updates produced by provider
// calls that outlived their caller. Tasks run on a single goroutine with a
// fresh per-task context so a dead request context cannot block a write.
// When the buffer is full the task is dropped and counted; writebacks are
// an optimization, never a correctness requirement.
type WritebackWorker struct {
	mu      sync.Mutex
	closed  bool
	tasks   chan func(context.Context)
	timeout time.Duration
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewWritebackWorker creates a worker with the given buffer size and
// per-task timeout, and starts its drain goroutine.
func NewWritebackWorker(buffer int, timeout time.Duration) *WritebackWorker {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &WritebackWorker{
		tasks:   make(chan func(context.Context), buffer),
		timeout: timeout,
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Enqueue schedules a task. Returns false if the buffer was full or the
// worker is closed; producers may outlive the worker during shutdown, so a
// late enqueue is counted as dropped rather than rejected loudly.
func (w *WritebackWorker) Enqueue(task func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.tasks <- task:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of tasks discarded due to a full buffer.
func (w *WritebackWorker) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting tasks and waits for queued ones to finish.
// Safe to call more than once.
func (w *WritebackWorker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *WritebackWorker) drain() {
	defer w.wg.Done()
	for task := range w.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		task(ctx)
		cancel()
	}
	if n := w.dropped.Load(); n > 0 {
		slog.Warn("writeback worker closed with dropped tasks", "dropped", n)
	}
}
