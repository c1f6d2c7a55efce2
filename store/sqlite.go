package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geocoder89/jobqueue/job"
	"github.com/geocoder89/jobqueue/queueerr"
)

// Observer is an optional hook a SQLiteStore reports each database
// operation through, so a caller can wire up duration histograms and
// error counters without the store package depending on a concrete
// metrics implementation.
type Observer interface {
	ObserveDB(op string, fn func() error) error
}

type noopObserver struct{}

func (noopObserver) ObserveDB(_ string, fn func() error) error { return fn() }

// SQLiteStore is a Store backed by an embedded, file-persisted SQLite
// database opened in WAL mode.
type SQLiteStore struct {
	db       *sql.DB
	observer Observer
}

// Option configures a SQLiteStore at Open time.
type Option func(*SQLiteStore)

// WithObserver attaches o so every database operation is wrapped by it.
func WithObserver(o Observer) Option {
	return func(s *SQLiteStore) {
		s.observer = o
	}
}

// Open opens (creating if absent) the SQLite database at path, tunes it
// for a single-writer, many-reader worker pool, and applies migrations.
// Pass ":memory:" for an ephemeral in-process store, typically used in
// tests.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	const tuning = "_foreign_keys=1&_journal=WAL&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=cache_size(64000)"

	dsn := path + "?" + tuning
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&" + tuning
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, queueerr.NewStorageError("open", err)
	}
	// SQLite allows exactly one writer at a time; serialize through a
	// single connection so busy-retry loops aren't needed for ordinary
	// writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, queueerr.NewStorageError("ping", err)
	}

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, queueerr.NewStorageError("migrate", err)
	}

	s := &SQLiteStore{db: db, observer: noopObserver{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) observe(op string, fn func() error) error {
	return s.observer.ObserveDB(op, fn)
}

func unixNow() int64 {
	return time.Now().UTC().Unix()
}

func (s *SQLiteStore) Push(ctx context.Context, jobType string, payload []byte) (job.Job, error) {
	return s.Schedule(ctx, jobType, payload, time.Now().UTC())
}

func (s *SQLiteStore) Schedule(ctx context.Context, jobType string, payload []byte, runAt time.Time) (job.Job, error) {
	j := job.New(job.CreateRequest{JobType: jobType, Payload: payload, RunAt: runAt})

	err := s.observe("schedule", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (id, job_type, payload, status, attempts, max_attempts, run_at, created_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			j.ID, j.JobType, j.Payload, string(job.StatusPending), j.MaxAttempts, j.RunAt.Unix(), j.CreatedAt.Unix())
		return err
	})
	if err != nil {
		return job.Job{}, queueerr.NewStorageError("schedule", err)
	}
	return j, nil
}

// FetchNext implements the atomic claim protocol: a SELECT of the eligible
// candidate with the earliest run_at, an UPDATE that can only succeed for
// one caller per row (guarded by lock_by IS NULL and the same eligibility
// predicate: Pending, or Failed with attempts remaining), and a SELECT of
// the row it just claimed. Two
// workers racing on the same job_type can run this concurrently; SQLite's
// single-writer serialization means only one UPDATE touches a given row,
// so the loser's UPDATE affects zero rows and it moves on empty-handed.
func (s *SQLiteStore) FetchNext(ctx context.Context, jobType, workerID string) (*job.Job, error) {
	var claimed *job.Job

	err := s.observe("fetch_next", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := unixNow()

		row := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE job_type = ?
			  AND (status = 'Pending' OR (status = 'Failed' AND attempts < max_attempts))
			  AND run_at <= ?
			  AND lock_by IS NULL
			ORDER BY run_at ASC
			LIMIT 1`, jobType, now)

		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'Running', lock_by = ?, lock_at = ?
			WHERE id = ? AND job_type = ? AND lock_by IS NULL
			  AND (status = 'Pending' OR (status = 'Failed' AND attempts < max_attempts))`,
			workerID, now, id, jobType)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Another caller claimed it between our SELECT and UPDATE.
			return nil
		}

		j, err := scanJob(tx.QueryRowContext(ctx, jobSelectColumns+` FROM jobs WHERE id = ? AND lock_by = ?`, id, workerID))
		if err != nil {
			return err
		}
		claimed = &j

		return tx.Commit()
	})
	if err != nil {
		return nil, queueerr.NewStorageError("fetch_next", err)
	}
	return claimed, nil
}

func (s *SQLiteStore) FetchByID(ctx context.Context, id string) (*job.Job, error) {
	var result *job.Job
	err := s.observe("fetch_by_id", func() error {
		j, err := scanJob(s.db.QueryRowContext(ctx, jobSelectColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		result = &j
		return nil
	})
	if err != nil {
		return nil, queueerr.NewStorageError("fetch_by_id", err)
	}
	return result, nil
}

func (s *SQLiteStore) Len(ctx context.Context, jobType string) (int, error) {
	var n int
	err := s.observe("len", func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM jobs
			WHERE job_type = ?
			  AND (status = 'Pending' OR (status = 'Failed' AND attempts < max_attempts))
			  AND run_at <= ?`, jobType, unixNow()).Scan(&n)
	})
	if err != nil {
		return 0, queueerr.NewStorageError("len", err)
	}
	return n, nil
}

func (s *SQLiteStore) IsEmpty(ctx context.Context, jobType string) (bool, error) {
	n, err := s.Len(ctx, jobType)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *SQLiteStore) Ack(ctx context.Context, id, workerID string) error {
	err := s.observe("ack", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'Done', done_at = ?, lock_by = NULL, lock_at = NULL
			WHERE id = ? AND lock_by = ?`, unixNow(), id, workerID)
		return err
	})
	if err != nil {
		return queueerr.NewStorageError("ack", err)
	}
	return nil
}

// Reschedule moves a Running job to Failed, increments its attempt count
// in the same statement (mirroring a Postgres "attempts = attempts + 1"
// UPDATE), clears its lock, records lastErr, and arms run_at for wait
// from now so the job becomes claimable again once it elapses.
func (s *SQLiteStore) Reschedule(ctx context.Context, id string, wait time.Duration, lastErr string) error {
	err := s.observe("reschedule", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'Failed', attempts = attempts + 1, lock_by = NULL, lock_at = NULL,
			    last_error = ?, run_at = ?
			WHERE id = ?`, lastErr, unixNow()+int64(wait/time.Second), id)
		return err
	})
	if err != nil {
		return queueerr.NewStorageError("reschedule", err)
	}
	return nil
}

func (s *SQLiteStore) Kill(ctx context.Context, id, workerID string) error {
	err := s.observe("kill", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'Killed', lock_by = NULL, lock_at = NULL, done_at = ?
			WHERE id = ? AND lock_by = ?`, unixNow(), id, workerID)
		return err
	})
	if err != nil {
		return queueerr.NewStorageError("kill", err)
	}
	return nil
}

// Retry puts a job a worker currently holds the lock on instantly back
// into the queue: Pending, lock cleared, attempts untouched. It is a
// no-op if workerID no longer holds the lock (lost to the reaper, or
// already acked/killed by someone else).
func (s *SQLiteStore) Retry(ctx context.Context, id, workerID string) error {
	err := s.observe("retry", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'Pending', done_at = NULL, lock_by = NULL, lock_at = NULL
			WHERE id = ? AND lock_by = ?`, id, workerID)
		return err
	})
	if err != nil {
		return queueerr.NewStorageError("retry", err)
	}
	return nil
}

// Heartbeat upserts a worker's keep-alive row, mirroring the
// INSERT ... ON CONFLICT(id) DO UPDATE idiom used to pulse liveness.
func (s *SQLiteStore) Heartbeat(ctx context.Context, w job.Worker) error {
	lastSeen := w.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	err := s.observe("heartbeat", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO workers (id, worker_type, storage_name, layers, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET last_seen = excluded.last_seen`,
			w.ID, w.WorkerType, w.StorageName, w.Layers, lastSeen.Unix())
		return err
	})
	if err != nil {
		return queueerr.NewStorageError("heartbeat", err)
	}
	return nil
}

// EnqueueScheduled re-arms up to count Failed jobs whose run_at has
// elapsed and which still have attempts remaining back to Pending, oldest
// lock first. FetchNext already treats such rows as claimable directly,
// so this pulse exists for stores or dashboards that key off
// status='Pending' alone rather than the fuller claim predicate.
func (s *SQLiteStore) EnqueueScheduled(ctx context.Context, jobType string, count int) (int, error) {
	var n int64
	err := s.observe("enqueue_scheduled", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'Pending'
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE job_type = ? AND status = 'Failed' AND attempts < max_attempts AND run_at <= ?
			  ORDER BY lock_at ASC LIMIT ?
			)`, jobType, unixNow(), count)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, queueerr.NewStorageError("enqueue_scheduled", err)
	}
	return int(n), nil
}

// ReenqueueOrphaned resets up to count Running jobs back to Pending when
// the worker holding their lock has not heartbeat within timeout (or has
// no worker row at all, e.g. it crashed before ever pulsing), oldest lock
// first, recording why on each row.
func (s *SQLiteStore) ReenqueueOrphaned(ctx context.Context, jobType string, timeout time.Duration, count int) (int, error) {
	var n int64
	err := s.observe("reenqueue_orphaned", func() error {
		cutoff := unixNow() - int64(timeout/time.Second)
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'Pending', lock_by = NULL, lock_at = NULL,
			    last_error = 'Job was abandoned', done_at = NULL
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE job_type = ? AND status = 'Running'
			    AND lock_by NOT IN (
			      SELECT id FROM workers WHERE worker_type = ? AND last_seen >= ?
			    )
			  ORDER BY lock_at ASC LIMIT ?
			)`, jobType, jobType, cutoff, count)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, queueerr.NewStorageError("reenqueue_orphaned", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Counts(ctx context.Context, jobType string) (StatusCounts, error) {
	var c StatusCounts
	err := s.observe("counts", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT status, COUNT(*) FROM jobs WHERE job_type = ? GROUP BY status`, jobType)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			switch job.Status(status) {
			case job.StatusPending:
				c.Pending = count
			case job.StatusRunning:
				c.Running = count
			case job.StatusDone:
				c.Done = count
			case job.StatusFailed:
				c.Failed = count
			case job.StatusKilled:
				c.Killed = count
			}
		}
		return rows.Err()
	})
	if err != nil {
		return StatusCounts{}, queueerr.NewStorageError("counts", err)
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context, jobType string, status job.Status, page, pageSize int) ([]job.Job, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	var jobs []job.Job
	err := s.observe("list", func() error {
		rows, err := s.db.QueryContext(ctx, jobSelectColumns+`
			FROM jobs WHERE job_type = ? AND status = ?
			ORDER BY done_at DESC, run_at DESC LIMIT ? OFFSET ?`,
			jobType, string(status), pageSize, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queueerr.NewStorageError("list", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) ListWorkers(ctx context.Context, jobType string) ([]job.Worker, error) {
	var workers []job.Worker
	err := s.observe("list_workers", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, worker_type, storage_name, layers, last_seen FROM workers
			WHERE worker_type = ? ORDER BY last_seen DESC`, jobType)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var w job.Worker
			var lastSeen int64
			if err := rows.Scan(&w.ID, &w.WorkerType, &w.StorageName, &w.Layers, &lastSeen); err != nil {
				return err
			}
			w.LastSeen = time.Unix(lastSeen, 0).UTC()
			workers = append(workers, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queueerr.NewStorageError("list_workers", err)
	}
	return workers, nil
}

const jobSelectColumns = `SELECT id, job_type, payload, status, attempts, max_attempts, run_at, last_error, lock_by, lock_at, done_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var j job.Job
	var status string
	var lastError sql.NullString
	var lockBy sql.NullString
	var lockAt sql.NullInt64
	var doneAt sql.NullInt64
	var runAt int64
	var createdAt int64

	err := row.Scan(&j.ID, &j.JobType, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&runAt, &lastError, &lockBy, &lockAt, &doneAt, &createdAt)
	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	j.RunAt = time.Unix(runAt, 0).UTC()
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastError.Valid {
		j.LastError = lastError.String
	}
	if lockBy.Valid {
		v := lockBy.String
		j.LockBy = &v
	}
	if lockAt.Valid {
		t := time.Unix(lockAt.Int64, 0).UTC()
		j.LockAt = &t
	}
	if doneAt.Valid {
		t := time.Unix(doneAt.Int64, 0).UTC()
		j.DoneAt = &t
	}
	return j, nil
}
