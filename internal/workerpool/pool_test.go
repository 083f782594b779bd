package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func shutdown(t *testing.T, p *Pool, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	p.Shutdown(ctx)
}

func TestSubmitAndShutdown(t *testing.T) {
	p := New("test", 2, 10)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(func(context.Context) { count.Add(1) }); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	shutdown(t, p, 5*time.Second)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := New("test", 1, 1)
	shutdown(t, p, 5*time.Second)

	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after Shutdown = %v, want ErrStopped", err)
	}
}

func TestQueueFull(t *testing.T) {
	p := New("test", 1, 1)
	started := make(chan struct{})
	blocker := make(chan struct{})
	if err := p.Submit(func(context.Context) { close(started); <-blocker }); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := p.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("second Submit should fill the queue: %v", err)
	}
	if err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Submit = %v, want ErrQueueFull", err)
	}
	if !p.Busy() {
		t.Fatal("pool should report busy")
	}

	close(blocker)
	shutdown(t, p, 5*time.Second)
	if p.Busy() {
		t.Fatal("pool should be idle after shutdown")
	}
}

func TestShutdownTimeoutCancelsTasks(t *testing.T) {
	p := New("test", 1, 1)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	begin := time.Now()
	shutdown(t, p, 100*time.Millisecond)
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("Shutdown took %v", elapsed)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled")
	}
	if p.Context().Err() == nil {
		t.Fatal("pool context should be cancelled")
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := New("test", 1, 2)
	var ran atomic.Bool
	p.Submit(func(context.Context) { panic("boom") })
	p.Submit(func(context.Context) { ran.Store(true) })
	shutdown(t, p, 5*time.Second)

	if !ran.Load() {
		t.Fatal("task after a panic did not run")
	}
}
