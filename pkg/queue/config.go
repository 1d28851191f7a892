package queue

import "time"

// Config holds the configuration for the dispatch core.
type Config struct {
	BatchSize      int           `env:"JOBQ_BATCH_SIZE" envDefault:"10"`
	DequeueTimeout time.Duration `env:"JOBQ_DEQUEUE_TIMEOUT" envDefault:"30s"`
	WorkerPoolSize int           `env:"JOBQ_WORKER_POOL_SIZE" envDefault:"4"`
	JobTimeout     time.Duration `env:"JOBQ_JOB_TIMEOUT" envDefault:"0"`
}
