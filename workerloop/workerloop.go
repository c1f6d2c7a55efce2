// Package workerloop wires a PollStream, a job handler and liveness
// bookkeeping into a supervised run loop: one goroutine claims jobs, a
// bounded pool executes them concurrently, and background tickers keep
// this worker's heartbeat fresh, reclaim work abandoned by peers, and log
// a throughput summary.
package workerloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hako/durafmt"
	"github.com/remeh/sizedwaitgroup"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/geocoder89/jobqueue/controller"
	"github.com/geocoder89/jobqueue/job"
	"github.com/geocoder89/jobqueue/metrics"
	"github.com/geocoder89/jobqueue/notify"
	"github.com/geocoder89/jobqueue/pollstream"
	"github.com/geocoder89/jobqueue/store"
)

var tracer = otel.Tracer("github.com/geocoder89/jobqueue/workerloop")

// Handler executes one job's side effect. A non-nil error is treated as a
// failure: the loop reschedules the job with backoff if attempts remain,
// or leaves it Failed as a dead letter otherwise.
type Handler interface {
	Handle(ctx context.Context, j job.Job) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, j job.Job) error

func (f HandlerFunc) Handle(ctx context.Context, j job.Job) error { return f(ctx, j) }

// WorkerLoop repeatedly claims and executes jobs of one job type.
type WorkerLoop struct {
	Store      store.Store
	Handler    Handler
	Config     Config
	Metrics    *metrics.JobMetrics
	Notifier   *notify.Notifier[struct{}]
	Controller controller.Controller
	Backoff    func(attempt int) time.Duration
}

// New returns a WorkerLoop ready to Run.
func New(s store.Store, handler Handler, cfg Config) *WorkerLoop {
	return &WorkerLoop{
		Store:      s,
		Handler:    handler,
		Config:     cfg,
		Notifier:   notify.New[struct{}](),
		Controller: controller.New(),
		Backoff:    ExponentialBackoff,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// Run blocks until ctx is cancelled, claiming and executing jobs the
// whole time. On cancellation it stops claiming new work and waits up to
// Config.ShutdownGrace for in-flight handlers to finish before returning.
func (w *WorkerLoop) Run(ctx context.Context) error {
	cfg := w.Config.withDefaults()
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	if w.Backoff == nil {
		w.Backoff = ExponentialBackoff
	}

	ps := &pollstream.PollStream{
		Store:      w.Store,
		JobType:    cfg.JobType,
		WorkerID:   workerID,
		Interval:   cfg.PollInterval,
		Notifier:   w.Notifier,
		Controller: w.Controller,
	}

	g, gctx := errgroup.WithContext(ctx)
	jobsCh := make(chan job.Job, cfg.BufferSize)

	g.Go(func() error {
		return w.heartbeatLoop(gctx, cfg, workerID)
	})
	g.Go(func() error {
		return w.reaperLoop(gctx, cfg)
	})
	g.Go(func() error {
		return w.metricsLogLoop(gctx)
	})
	g.Go(func() error {
		defer close(jobsCh)
		return w.produceLoop(gctx, ps, jobsCh)
	})
	g.Go(func() error {
		return w.dispatchLoop(ctx, gctx, cfg, workerID, jobsCh)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *WorkerLoop) produceLoop(ctx context.Context, ps *pollstream.PollStream, jobsCh chan<- job.Job) error {
	for {
		j, err := ps.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if w.Metrics != nil {
			w.Metrics.RecordClaimed()
		}
		select {
		case jobsCh <- *j:
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatchLoop drains jobsCh with up to Config.Concurrency handlers
// running at once. Handlers get their own context, derived from
// context.Background and cancelled ShutdownGrace after gctx is done, so
// they can keep running briefly after gctx is cancelled; the loop stops
// accepting new work once the channel is closed.
func (w *WorkerLoop) dispatchLoop(_, gctx context.Context, cfg Config, workerID string, jobsCh <-chan job.Job) error {
	swg := sizedwaitgroup.New(cfg.Concurrency)

	graceCtx, cancelGrace := context.WithCancel(context.Background())
	defer cancelGrace()
	go func() {
		<-gctx.Done()
		// Give in-flight handlers up to ShutdownGrace to finish instead of
		// cancelling them the instant the run context goes away.
		time.Sleep(cfg.ShutdownGrace)
		cancelGrace()
	}()

	for j := range jobsCh {
		swg.Add()
		go func(j job.Job) {
			defer swg.Done()
			w.execute(graceCtx, j, workerID)
		}(j)
	}

	swg.Wait()
	return nil
}

func (w *WorkerLoop) execute(ctx context.Context, j job.Job, workerID string) {
	spanCtx, span := tracer.Start(ctx, "job.run",
		attribute.String("job.id", j.ID),
		attribute.String("job.type", j.JobType),
		attribute.Int("job.attempts", j.Attempts),
	)
	defer span.End()

	start := time.Now()
	err := w.Handler.Handle(spanCtx, j)
	dur := time.Since(start)

	if w.Metrics != nil {
		w.Metrics.RecordOutcome(err != nil, dur)
	}

	if err == nil {
		span.SetStatus(codes.Ok, "")
		if ackErr := w.Store.Ack(ctx, j.ID, workerID); ackErr != nil {
			slog.Default().ErrorContext(ctx, "ack failed", "job_id", j.ID, "error", ackErr)
		}
		slog.Default().InfoContext(ctx, "job done", "job_id", j.ID, "job_type", j.JobType, "duration", dur)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if j.CanRetry() {
		delay := w.Backoff(j.Attempts)
		if rErr := w.Store.Reschedule(ctx, j.ID, delay, err.Error()); rErr != nil {
			slog.Default().ErrorContext(ctx, "reschedule failed", "job_id", j.ID, "error", rErr)
		}
		slog.Default().WarnContext(ctx, "job failed, rescheduled", "job_id", j.ID, "job_type", j.JobType, "attempts", j.Attempts+1, "delay", delay, "error", err)
		return
	}

	if rErr := w.Store.Reschedule(ctx, j.ID, 0, err.Error()); rErr != nil {
		slog.Default().ErrorContext(ctx, "dead-letter reschedule failed", "job_id", j.ID, "error", rErr)
	}
	slog.Default().ErrorContext(ctx, "job exhausted attempts", "job_id", j.ID, "job_type", j.JobType, "attempts", j.Attempts+1, "error", err)
}

func (w *WorkerLoop) heartbeatLoop(ctx context.Context, cfg Config, workerID string) error {
	pulse := func() {
		wk := job.Worker{ID: workerID, WorkerType: cfg.JobType, StorageName: "sqlite", LastSeen: time.Now()}
		if err := w.Store.Heartbeat(ctx, wk); err != nil {
			slog.Default().ErrorContext(ctx, "heartbeat failed", "worker_id", workerID, "error", err)
		}
	}
	pulse()

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pulse()
		}
	}
}

// metricsLogLoop periodically logs a human-readable throughput summary,
// separate from whatever scrapes the Prometheus registry, so the worker's
// own log stream tells an operator how it's doing without a dashboard.
func (w *WorkerLoop) metricsLogLoop(ctx context.Context) error {
	if w.Metrics == nil {
		return nil
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := w.Metrics.Snapshot()
			slog.Default().InfoContext(ctx, "jobqueue throughput",
				"claimed", snap.Claimed,
				"done", snap.Done,
				"failed", snap.Failed,
				"orphaned", snap.Orphaned,
				"avg_duration", durafmt.Parse(snap.AverageDuration).LimitFirstN(2).String(),
				"max_duration", durafmt.Parse(snap.MaxDuration).LimitFirstN(2).String(),
			)
		}
	}
}

func (w *WorkerLoop) reaperLoop(ctx context.Context, cfg Config) error {
	interval := cfg.WorkerTimeout / 2
	if interval <= 0 {
		interval = cfg.HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.Store.ReenqueueOrphaned(ctx, cfg.JobType, cfg.WorkerTimeout, cfg.ReapBatchSize)
			if err != nil {
				slog.Default().ErrorContext(ctx, "reenqueue orphaned failed", "job_type", cfg.JobType, "error", err)
				continue
			}
			if n > 0 {
				if w.Metrics != nil {
					w.Metrics.RecordOrphaned(n)
				}
				slog.Default().WarnContext(ctx, "reclaimed orphaned jobs", "job_type", cfg.JobType, "count", n)
			}
			if _, err := w.Store.EnqueueScheduled(ctx, cfg.JobType, cfg.ReapBatchSize); err != nil {
				slog.Default().ErrorContext(ctx, "enqueue scheduled failed", "job_type", cfg.JobType, "error", err)
			}
		}
	}
}
