package job

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	j := New(CreateRequest{JobType: "email", Payload: []byte(`{}`)})

	if j.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if j.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("got MaxAttempts %d, want %d", j.MaxAttempts, DefaultMaxAttempts)
	}
	if j.Status != StatusPending {
		t.Fatalf("got status %v, want Pending", j.Status)
	}
	if j.RunAt.IsZero() {
		t.Fatal("expected RunAt to default to now")
	}
}

func TestNewRespectsExplicitFields(t *testing.T) {
	runAt := time.Now().Add(time.Hour)
	j := New(CreateRequest{JobType: "email", MaxAttempts: 3, RunAt: runAt})

	if j.MaxAttempts != 3 {
		t.Fatalf("got MaxAttempts %d, want 3", j.MaxAttempts)
	}
	if !j.RunAt.Equal(runAt) {
		t.Fatalf("got RunAt %v, want %v", j.RunAt, runAt)
	}
}

func TestCanRetry(t *testing.T) {
	j := New(CreateRequest{JobType: "email", MaxAttempts: 2})
	if !j.CanRetry() {
		t.Fatal("expected fresh job to be retryable")
	}

	j.Attempts = 2
	if j.CanRetry() {
		t.Fatal("expected exhausted job to not be retryable")
	}
}

func TestIsLocked(t *testing.T) {
	j := New(CreateRequest{JobType: "email"})
	if j.IsLocked() {
		t.Fatal("new job should not be locked")
	}

	worker := "test-worker"
	j.LockBy = &worker
	if !j.IsLocked() {
		t.Fatal("expected locked job to report IsLocked")
	}
}
