package queue

import (
	"log/slog"
	"time"
)

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	batchSize      int
	workerPoolSize int
	jobTimeout     time.Duration
	logger         *slog.Logger
	metrics        MetricsRecorder
}

// WithBatchSize sets the maximum number of jobs claimed per cycle.
func WithBatchSize(n int) ManagerOption {
	return func(o *managerOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithWorkerPoolSize sets the number of workers executing blocking handlers.
// The pool size bounds how many blocking jobs truly execute simultaneously;
// submissions beyond capacity queue until a worker frees up.
func WithWorkerPoolSize(n int) ManagerOption {
	return func(o *managerOptions) {
		if n > 0 {
			o.workerPoolSize = n
		}
	}
}

// WithJobTimeout bounds the execution time of a single handler invocation.
// Zero means no limit.
func WithJobTimeout(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithManagerLogger sets the logger for the manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder wires a lifecycle metrics recorder into the manager.
func WithMetricsRecorder(m MetricsRecorder) ManagerOption {
	return func(o *managerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithConfig applies an environment-derived Config in one call.
func WithConfig(cfg Config) ManagerOption {
	return func(o *managerOptions) {
		WithBatchSize(cfg.BatchSize)(o)
		WithWorkerPoolSize(cfg.WorkerPoolSize)(o)
		WithJobTimeout(cfg.JobTimeout)(o)
	}
}
