package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/jobqueue/queueerr"
)

func TestNotifyRecv(t *testing.T) {
	n := New[int]()
	n.Notify(42)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := n.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
}

func TestNotifyDropsOnFullBuffer(t *testing.T) {
	n := New[int]()
	for i := 0; i < bufferSize+5; i++ {
		n.Notify(i)
	}
	// Buffer holds at most bufferSize entries; draining should never block
	// past that many.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	count := 0
	for {
		select {
		case <-n.ch:
			count++
		default:
			if count > bufferSize {
				t.Fatalf("drained %d notifications, want <= %d", count, bufferSize)
			}
			return
		}
		_ = ctx
	}
}

func TestNotifyRecvContextCancelled(t *testing.T) {
	n := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Recv(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestNotifyRecvAfterClose(t *testing.T) {
	n := New[int]()
	n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := n.Recv(ctx)
	var streamErr *queueerr.StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("got %v, want *queueerr.StreamError", err)
	}
	if streamErr.Kind != queueerr.BrokenPipe {
		t.Fatalf("got kind %v, want BrokenPipe", streamErr.Kind)
	}
}

func TestNotifyPollNonBlocking(t *testing.T) {
	n := New[string]()
	if _, ok := n.Poll(); ok {
		t.Fatal("expected ok=false on empty notifier")
	}

	n.Notify("hello")
	v, ok := n.Poll()
	if !ok || v != "hello" {
		t.Fatalf("got (%q, %v), want (\"hello\", true)", v, ok)
	}
}

func TestNotifyPollBusyWhileRecvInFlight(t *testing.T) {
	n := New[int]()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		n.Recv(ctx)
		close(done)
	}()

	<-started
	time.Sleep(10 * time.Millisecond)
	if _, ok := n.Poll(); ok {
		t.Fatal("expected Poll to report busy while a Recv holds the consumer lock")
	}
	<-done
}
