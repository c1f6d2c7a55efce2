// Package store persists jobs and worker liveness rows and implements the
// atomic claim protocol a PollStream relies on. The only implementation
// shipped here targets an embedded, file-backed SQL engine (modernc.org/sqlite)
// running in WAL mode, but callers depend on the Store interface so a
// different backend can be substituted without touching pollstream or
// workerloop.
package store

import (
	"context"
	"time"

	"github.com/geocoder89/jobqueue/job"
)

// StatusCounts is a snapshot of how many jobs of a given type sit in each
// status, used by the management projection.
type StatusCounts struct {
	Pending int
	Running int
	Done    int
	Failed  int
	Killed  int
}

// Store is the full set of operations the queue fabric needs from a
// durable backend.
type Store interface {
	// Push inserts a job runnable immediately.
	Push(ctx context.Context, jobType string, payload []byte) (job.Job, error)

	// Schedule inserts a job that only becomes eligible for claim at runAt.
	Schedule(ctx context.Context, jobType string, payload []byte, runAt time.Time) (job.Job, error)

	// FetchNext atomically claims one eligible job of jobType for workerID,
	// or returns (nil, nil) if none is currently available.
	FetchNext(ctx context.Context, jobType, workerID string) (*job.Job, error)

	// FetchByID returns a single job by id, or (nil, nil) if it does not
	// exist.
	FetchByID(ctx context.Context, id string) (*job.Job, error)

	// Len reports the number of jobs of jobType currently eligible to run
	// (Pending, or Failed with attempts remaining and run_at due).
	Len(ctx context.Context, jobType string) (int, error)

	// IsEmpty reports whether Len would return 0.
	IsEmpty(ctx context.Context, jobType string) (bool, error)

	// Ack marks a Running job Done, but only if workerID still holds its
	// lock; otherwise it is a no-op (the job was already reclaimed by
	// another worker or terminated by someone else).
	Ack(ctx context.Context, id, workerID string) error

	// Reschedule marks a Running job Failed, increments its attempt count,
	// clears its lock, and sets run_at to now+wait so it becomes eligible
	// again later.
	Reschedule(ctx context.Context, id string, wait time.Duration, lastErr string) error

	// Kill marks a job Killed, guarded the same way as Ack: only if
	// workerID still holds its lock.
	Kill(ctx context.Context, id, workerID string) error

	// Retry puts a job workerID currently holds the lock on back to
	// Pending immediately, clearing its lock; attempts is untouched.
	// Guarded the same way as Ack.
	Retry(ctx context.Context, id, workerID string) error

	// Heartbeat upserts a worker's last-seen timestamp.
	Heartbeat(ctx context.Context, w job.Worker) error

	// EnqueueScheduled re-arms up to count Failed jobs whose run_at has
	// passed and which still have attempts remaining, making them Pending
	// again, oldest lock first.
	EnqueueScheduled(ctx context.Context, jobType string, count int) (int, error)

	// ReenqueueOrphaned resets up to count Running jobs back to Pending
	// when their owning worker has not heartbeat within timeout, oldest
	// lock first, and returns how many jobs were reclaimed.
	ReenqueueOrphaned(ctx context.Context, jobType string, timeout time.Duration, count int) (int, error)

	// Counts returns a status breakdown for jobType.
	Counts(ctx context.Context, jobType string) (StatusCounts, error)

	// List returns a page of jobs of jobType filtered by status, ordered
	// newest first.
	List(ctx context.Context, jobType string, status job.Status, page, pageSize int) ([]job.Job, error)

	// ListWorkers returns the known workers for jobType, most recently
	// seen first.
	ListWorkers(ctx context.Context, jobType string) ([]job.Worker, error)

	// Close releases the underlying connection pool.
	Close() error
}
