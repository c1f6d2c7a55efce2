package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocoder89/jobqueue/internal/config"
	"github.com/geocoder89/jobqueue/internal/healthserver"
	"github.com/geocoder89/jobqueue/internal/tracing"
	"github.com/geocoder89/jobqueue/job"
	"github.com/geocoder89/jobqueue/metrics"
	"github.com/geocoder89/jobqueue/store"
	"github.com/geocoder89/jobqueue/workerloop"
)

type emailPayload struct {
	Subject string `json:"subject"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

// emailHandler is a toy Handler demonstrating end-to-end wiring; real
// callers supply their own.
type emailHandler struct{}

func (emailHandler) Handle(ctx context.Context, j job.Job) error {
	var p emailPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return err
	}
	slog.Default().InfoContext(ctx, "sending email", "to", p.To, "subject", p.Subject)
	return nil
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(context.Background(), "jobqueue-worker", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	slog.SetDefault(tracing.NewLogger(cfg.Env))

	reg := prometheus.NewRegistry()
	jobMetrics := metrics.New(reg)

	s, err := store.Open(cfg.DBPath, store.WithObserver(jobMetrics))
	if err != nil {
		slog.Default().ErrorContext(ctx, "store open failed", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	wl := workerloop.New(s, emailHandler{}, cfg.WorkerConfig())
	wl.Metrics = jobMetrics

	health := healthserver.New(cfg.HealthAddr, wl.Controller, reg)

	slog.Default().InfoContext(ctx, "worker.start", "job_type", cfg.JobType, "db_path", cfg.DBPath, "health_addr", cfg.HealthAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := health.Run(ctx); err != nil {
			slog.Default().ErrorContext(ctx, "health server failed", "error", err)
		}
	}()

	if err := wl.Run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "worker.run_failed", "error", err)
	}

	wg.Wait()
	slog.Default().InfoContext(context.Background(), "worker.shutdown_complete")
}
