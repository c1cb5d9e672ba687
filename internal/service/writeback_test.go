package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWritebackRunsTasks(t *testing.T) {
	w := NewWritebackWorker(8, time.Second)

	var ran atomic.Int32
	for range 5 {
		if !w.Enqueue(func(context.Context) { ran.Add(1) }) {
			t.Fatal("enqueue refused with free buffer")
		}
	}
	w.Close()

	if ran.Load() != 5 {
		t.Errorf("ran %d tasks, want 5", ran.Load())
	}
	if w.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", w.Dropped())
	}
}

func TestWritebackDropsWhenFull(t *testing.T) {
	w := NewWritebackWorker(1, time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	w.Enqueue(func(context.Context) {
		close(started)
		<-release
	})
	<-started

	// worker is busy; one task fits the buffer, the next is dropped
	w.Enqueue(func(context.Context) {})
	if w.Enqueue(func(context.Context) {}) {
		t.Error("enqueue accepted beyond buffer")
	}
	if w.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", w.Dropped())
	}

	close(release)
	w.Close()
}

func TestWritebackEnqueueAfterCloseIsDropped(t *testing.T) {
	w := NewWritebackWorker(4, time.Second)
	w.Close()

	// Detached provider goroutines can outlive shutdown; a late enqueue
	// must be refused quietly, not crash the process.
	if w.Enqueue(func(context.Context) {}) {
		t.Fatal("enqueue accepted after close")
	}
	if w.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", w.Dropped())
	}

	w.Close() // idempotent
}

func TestWritebackTaskContextHasDeadline(t *testing.T) {
	w := NewWritebackWorker(1, 50*time.Millisecond)

	deadlineSet := make(chan bool, 1)
	w.Enqueue(func(ctx context.Context) {
		_, ok := ctx.Deadline()
		deadlineSet <- ok
	})
	w.Close()

	if !<-deadlineSet {
		t.Error("task context missing deadline")
	}
}
