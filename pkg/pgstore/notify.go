package pgstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const cancelChannel = "jobq_cancellations"

// SubscribeCancellations implements queue.CancellationNotifier: it starts a
// listener goroutine holding a dedicated connection on the cancellation
// NOTIFY channel and invokes fn for every announced job id until ctx is done.
// Lost connections are re-established with a small backoff; the dispatcher's
// poll path covers any notifications missed in between.
func (s *Storage) SubscribeCancellations(ctx context.Context, fn func(jobID uuid.UUID)) error {
	go s.listenCancellations(ctx, fn)
	return nil
}

func (s *Storage) listenCancellations(ctx context.Context, fn func(jobID uuid.UUID)) {
	for ctx.Err() == nil {
		if err := s.waitForCancellations(ctx, fn); err != nil && ctx.Err() == nil {
			s.logger.Warn("cancellation listener disconnected, reconnecting",
				slog.String("error", err.Error()))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func (s *Storage) waitForCancellations(ctx context.Context, fn func(jobID uuid.UUID)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+cancelChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		jobID, err := uuid.Parse(notification.Payload)
		if err != nil {
			s.logger.Warn("discarding malformed cancellation notification",
				slog.String("payload", notification.Payload))
			continue
		}
		fn(jobID)
	}
}
