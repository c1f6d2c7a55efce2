// Package job defines the data model shared by the store, poll stream and
// worker loop: a Job, its Status lifecycle, and the Worker bookkeeping row
// used for liveness tracking and orphan recovery.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job. A Job moves Pending -> Running,
// then to Done, Failed or Killed, or back to Pending (a store Retry or an
// orphan reclaim). Reschedule leaves a failed job Failed with a deferred
// run_at; while attempts remain it is claimable again once due, and
// EnqueueScheduled can re-arm it to Pending. Retry is kept as a valid value
// for callers layering their own retry policy on top of the store, but no
// store operation assigns it.
type Status string

const (
	StatusPending Status = "Pending"
	StatusRunning Status = "Running"
	StatusDone    Status = "Done"
	StatusFailed  Status = "Failed"
	StatusRetry   Status = "Retry"
	StatusKilled  Status = "Killed"
)

// Job is one unit of work durably tracked by a Store.
type Job struct {
	ID          string
	JobType     string
	Payload     []byte
	Status      Status
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   string
	LockBy      *string
	LockAt      *time.Time
	DoneAt      *time.Time
	CreatedAt   time.Time
}

// DefaultMaxAttempts is used by New when the caller leaves MaxAttempts
// unset.
const DefaultMaxAttempts = 25

// CreateRequest describes a job submission before it is assigned an ID
// and default fields.
type CreateRequest struct {
	JobType     string
	Payload     []byte
	MaxAttempts int
	RunAt       time.Time
}

// New builds a Job from req, generating an ID and filling in defaults:
// MaxAttempts falls back to DefaultMaxAttempts, RunAt falls back to now.
func New(req CreateRequest) Job {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	runAt := req.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	return Job{
		ID:          uuid.NewString(),
		JobType:     req.JobType,
		Payload:     req.Payload,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsLocked reports whether the job currently holds a worker lock.
func (j Job) IsLocked() bool {
	return j.LockBy != nil
}

// CanRetry reports whether a Failed job still has attempts remaining.
func (j Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Worker is a liveness row: one per worker process pulling from a given
// job_type, refreshed by periodic heartbeats and consulted by orphan
// recovery to decide which in-flight jobs have lost their owner.
type Worker struct {
	ID          string
	WorkerType  string
	StorageName string
	Layers      string
	LastSeen    time.Time
}
