// Package metrics exposes Prometheus collectors for job throughput and
// storage latency, adapted from an HTTP-service job metrics block down to
// the queue-only counters a worker loop and store observer need.
package metrics

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics tracks queue throughput in-process (for cheap snapshotting
// in logs) and mirrors the same counters into Prometheus when a
// Registerer is supplied.
type JobMetrics struct {
	claimed      atomic.Uint64
	done         atomic.Uint64
	failed       atomic.Uint64
	retried      atomic.Uint64
	killed       atomic.Uint64
	orphaned     atomic.Uint64
	durationNS   atomic.Uint64
	durationN    atomic.Uint64
	maxDurNS     atomic.Uint64

	claimedTotal  prometheus.Counter
	doneTotal     prometheus.Counter
	failedTotal   prometheus.Counter
	retriedTotal  prometheus.Counter
	killedTotal   prometheus.Counter
	orphanedTotal prometheus.Counter
	jobDuration   prometheus.Histogram

	dbDuration *prometheus.HistogramVec
	dbErrors   *prometheus.CounterVec
}

// New registers queue and storage collectors against reg and returns a
// JobMetrics ready to record events. reg may be a fresh
// prometheus.NewRegistry() or prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		claimedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "jobqueue_jobs_claimed_total", Help: "Jobs claimed from the store."}),
		doneTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "jobqueue_jobs_done_total", Help: "Jobs acknowledged as done."}),
		failedTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "jobqueue_jobs_failed_total", Help: "Jobs that failed and were rescheduled or dead-lettered."}),
		retriedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "jobqueue_jobs_retried_total", Help: "Jobs manually retried."}),
		killedTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "jobqueue_jobs_killed_total", Help: "Jobs killed."}),
		orphanedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "jobqueue_jobs_orphaned_total", Help: "Running jobs reclaimed from a worker that stopped heartbeating."}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobqueue_job_duration_seconds",
			Help:    "Time spent executing a claimed job's handler.",
			Buckets: prometheus.DefBuckets,
		}),
		dbDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobqueue_store_operation_duration_seconds",
			Help:    "Time spent in a store operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		dbErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobqueue_store_errors_total",
			Help: "Store operation errors by operation and classification.",
		}, []string{"op", "class"}),
	}

	reg.MustRegister(m.claimedTotal, m.doneTotal, m.failedTotal, m.retriedTotal,
		m.killedTotal, m.orphanedTotal, m.jobDuration, m.dbDuration, m.dbErrors)
	return m
}

func (m *JobMetrics) RecordClaimed() { m.claimed.Add(1); m.claimedTotal.Inc() }
func (m *JobMetrics) RecordKilled()  { m.killed.Add(1); m.killedTotal.Inc() }
func (m *JobMetrics) RecordRetried() { m.retried.Add(1); m.retriedTotal.Inc() }
func (m *JobMetrics) RecordOrphaned(n int) {
	if n <= 0 {
		return
	}
	m.orphaned.Add(uint64(n))
	m.orphanedTotal.Add(float64(n))
}

// RecordOutcome records a handler's execution result and duration.
func (m *JobMetrics) RecordOutcome(failed bool, d time.Duration) {
	if failed {
		m.failed.Add(1)
		m.failedTotal.Inc()
	} else {
		m.done.Add(1)
		m.doneTotal.Inc()
	}

	ns := uint64(d.Nanoseconds())
	m.durationNS.Add(ns)
	m.durationN.Add(1)
	for {
		cur := m.maxDurNS.Load()
		if ns <= cur || m.maxDurNS.CompareAndSwap(cur, ns) {
			break
		}
	}
	m.jobDuration.Observe(d.Seconds())
}

// ObserveDB satisfies store.Observer: it wraps fn with a duration
// histogram and, on error, a counter classified by a coarse error string
// match since modernc.org/sqlite surfaces failures as plain error values
// rather than a typed error hierarchy the way pgx does.
func (m *JobMetrics) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.dbDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.dbErrors.WithLabelValues(op, classifySQLiteErr(err)).Inc()
	}
	return err
}

func classifySQLiteErr(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "locked") || strings.Contains(msg, "busy"):
		return "busy"
	case strings.Contains(msg, "constraint"):
		return "constraint"
	case strings.Contains(msg, "no such table"):
		return "schema"
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "context canceled"):
		return "timeout"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the in-process counters, suitable
// for periodic structured logging without scraping Prometheus.
type Snapshot struct {
	Claimed         uint64
	Done            uint64
	Failed          uint64
	Retried         uint64
	Killed          uint64
	Orphaned        uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *JobMetrics) Snapshot() Snapshot {
	n := m.durationN.Load()
	var avg time.Duration
	if n > 0 {
		avg = time.Duration(m.durationNS.Load() / n)
	}
	return Snapshot{
		Claimed:         m.claimed.Load(),
		Done:            m.done.Load(),
		Failed:          m.failed.Load(),
		Retried:         m.retried.Load(),
		Killed:          m.killed.Load(),
		Orphaned:        m.orphaned.Load(),
		DurationCount:   n,
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.maxDurNS.Load()),
	}
}
