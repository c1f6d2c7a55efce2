package workerloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geocoder89/jobqueue/job"
	"github.com/geocoder89/jobqueue/store"
)

func TestWorkerLoopProcessesPushedJob(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Push(ctx, "email", []byte(`{}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	var handled atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, j job.Job) error {
		handled.Add(1)
		return nil
	})

	wl := New(s, handler, Config{
		JobType:           "email",
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		WorkerTimeout:     time.Hour,
		ShutdownGrace:     50 * time.Millisecond,
	})

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := wl.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if handled.Load() != 1 {
		t.Fatalf("got %d handled jobs, want 1", handled.Load())
	}

	counts, err := s.Counts(ctx, "email")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Done != 1 {
		t.Fatalf("got %+v, want Done=1", counts)
	}
}

func TestWorkerLoopReschedulesFailedHandler(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	req := job.CreateRequest{JobType: "email", Payload: []byte(`{}`), MaxAttempts: 5}
	pushed := job.New(req)
	if _, err := s.Schedule(ctx, pushed.JobType, pushed.Payload, time.Now()); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	handler := HandlerFunc(func(ctx context.Context, j job.Job) error {
		return errors.New("boom")
	})

	wl := New(s, handler, Config{
		JobType:           "email",
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		WorkerTimeout:     time.Hour,
		ShutdownGrace:     50 * time.Millisecond,
	})
	wl.Backoff = func(attempt int) time.Duration { return time.Hour } // defer far into the future, deterministically

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := wl.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts, err := s.Counts(ctx, "email")
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Failed != 1 {
		t.Fatalf("got %+v, want Failed=1", counts)
	}
}

func TestWorkerLoopHeartbeatsAndReclaimsOrphans(t *testing.T) {
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	stale := job.Worker{ID: "dead-worker", WorkerType: "email", StorageName: "sqlite", LastSeen: time.Now().Add(-time.Hour)}
	if err := s.Heartbeat(ctx, stale); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if _, err := s.Push(ctx, "email", []byte(`{}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := s.FetchNext(ctx, "email", "dead-worker"); err != nil {
		t.Fatalf("FetchNext: %v", err)
	}

	var handled atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, j job.Job) error {
		handled.Add(1)
		return nil
	})

	wl := New(s, handler, Config{
		JobType:           "email",
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		WorkerTimeout:     10 * time.Millisecond,
		ShutdownGrace:     50 * time.Millisecond,
	})

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	if err := wl.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if handled.Load() != 1 {
		t.Fatalf("got %d handled jobs, want the orphaned job reclaimed and processed once", handled.Load())
	}
}
