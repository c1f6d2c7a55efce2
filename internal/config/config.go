package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/geocoder89/jobqueue/workerloop"
)

type Config struct {
	Env               string
	DBPath            string
	JobType           string
	HealthAddr        string
	PollInterval      time.Duration
	BufferSize        int
	Concurrency       int
	HeartbeatInterval time.Duration
	WorkerTimeout     time.Duration
	ShutdownGrace     time.Duration
	OTLPEndpoint      string
}

func Load() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		DBPath:            getEnv("JOBQUEUE_DB_PATH", "jobqueue.db"),
		JobType:           getEnv("JOBQUEUE_JOB_TYPE", "email"),
		HealthAddr:        getEnv("JOBQUEUE_HEALTH_ADDR", ":9090"),
		PollInterval:      getEnvDuration("JOBQUEUE_POLL_INTERVAL", workerloop.DefaultPollInterval),
		BufferSize:        getEnvInt("JOBQUEUE_BUFFER_SIZE", workerloop.DefaultBufferSize),
		Concurrency:       getEnvInt("JOBQUEUE_CONCURRENCY", workerloop.DefaultConcurrency),
		HeartbeatInterval: getEnvDuration("JOBQUEUE_HEARTBEAT_INTERVAL", workerloop.DefaultHeartbeatInterval),
		WorkerTimeout:     getEnvDuration("JOBQUEUE_WORKER_TIMEOUT", workerloop.DefaultWorkerTimeout),
		ShutdownGrace:     getEnvDuration("JOBQUEUE_SHUTDOWN_GRACE", workerloop.DefaultShutdownGrace),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// WorkerConfig adapts Config into the workerloop.Config shape.
func (c Config) WorkerConfig() workerloop.Config {
	return workerloop.Config{
		JobType:           c.JobType,
		PollInterval:      c.PollInterval,
		BufferSize:        c.BufferSize,
		Concurrency:       c.Concurrency,
		HeartbeatInterval: c.HeartbeatInterval,
		WorkerTimeout:     c.WorkerTimeout,
		ShutdownGrace:     c.ShutdownGrace,
	}
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return d
	}
	return fallback
}
