package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusPicked     JobStatus = "picked"
	StatusSuccessful JobStatus = "successful"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status is one of the three terminal outcomes.
// A job transitions to a terminal status exactly once; later writes are no-ops.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCanceled
}

// Job represents one unit of queued work.
//
// Priority is an ordering key: lower values are served first. Payload is an
// opaque byte sequence interpreted only by the registered handler.
type Job struct {
	ID              uuid.UUID  `json:"id"`
	Entrypoint      string     `json:"entrypoint"`
	Payload         []byte     `json:"payload,omitempty"`
	Priority        int        `json:"priority"`
	Status          JobStatus  `json:"status"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	PickedAt        *time.Time `json:"picked_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// JobSpec describes a job to enqueue.
type JobSpec struct {
	Entrypoint string
	Payload    []byte
	Priority   int
}

// QueueSizeEntry is a snapshot count of jobs in a given status. Recomputed on
// every query, never persisted.
type QueueSizeEntry struct {
	Status JobStatus `json:"status"`
	Count  int64     `json:"count"`
}

// StatisticsEntry aggregates terminal-transition log rows by status over a
// bounded trailing window ("tail N" most recent rows).
type StatisticsEntry struct {
	Status JobStatus `json:"status"`
	Count  int64     `json:"count"`
}
