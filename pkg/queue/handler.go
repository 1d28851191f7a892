package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler is the user-provided implementation of a job's business logic.
	//
	// It should return nil if the job was processed successfully. If Handle
	// returns an error or panics, the job is marked as failed.
	Handler interface {
		Handle(ctx context.Context, job *Job) error
	}

	// HandlerFunc adapts a plain function to the Handler interface.
	HandlerFunc func(ctx context.Context, job *Job) error
)

func (fn HandlerFunc) Handle(ctx context.Context, job *Job) error { return fn(ctx, job) }

// NewJSONHandler wraps a typed function in a Handler that unmarshals the job
// payload from JSON before invoking it.
func NewJSONHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	return HandlerFunc(func(ctx context.Context, job *Job) error {
		var payload T
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload of job %s: %w", job.ID, err)
		}
		return fn(ctx, payload)
	})
}
