// Package workers runs background drain loops.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/smppgateway/internal/logging"
)

// WorkerFunc processes up to batchSize items and reports how many it handled.
// An error stops the loop.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// Loop drains a queue at startup, on every Wake signal and on every Interval
// tick. A drain keeps calling Work until it handles less than a full batch.
type Loop[T any] struct {
	Name      string
	Interval  time.Duration
	BatchSize int
	Wake      <-chan T
	// Errs ends the loop with the received error, e.g. a dropped listener.
	Errs <-chan error
	Work WorkerFunc
}

// Run blocks until ctx is cancelled (returning nil) or a drain fails.
func (l Loop[T]) Run(ctx context.Context) error {
	ctx = logging.ContextWithWorkerID(ctx, l.Name)
	slog.InfoContext(ctx, "Worker starting", slog.Duration("interval", l.Interval), slog.Int("batch_size", l.BatchSize))

	if err := l.Drain(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping")
			return nil
		case err := <-l.Errs:
			slog.ErrorContext(ctx, "Worker wake-up source failed", slog.Any("error", err))
			return err
		case <-l.Wake:
			if err := l.Drain(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if err := l.Drain(ctx); err != nil {
				return err
			}
		}
	}
}

// Drain runs Work until the backlog is exhausted.
func (l Loop[T]) Drain(ctx context.Context) error {
	total := 0
	for {
		n, err := l.Work(ctx, l.BatchSize)
		total += n
		if err != nil {
			slog.ErrorContext(ctx, "Worker run failed", slog.Any("error", err), slog.Int("processed", total))
			return err
		}
		if n < l.BatchSize {
			break
		}
	}
	if total > 0 {
		slog.InfoContext(ctx, "Worker processed items", slog.Int("count", total))
	}
	return nil
}
