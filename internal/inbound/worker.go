// Package inbound dispatches stored MO messages to the application router.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/router"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/internal/workers"
)

// Queue is the part of the store the worker needs.
type Queue interface {
	ClaimInbound(ctx context.Context, limit int) ([]store.InboundMessage, error)
	MarkInboundDone(ctx context.Context, ids []int64) (int64, error)
	MarkInboundError(ctx context.Context, id int64, reason string) error
	ReleaseInbound(ctx context.Context, ids []int64) (int64, error)
}

// Notifications wakes the worker. *pgnotify.Listener satisfies it.
type Notifications interface {
	C() <-chan pgnotify.Notification
	Err() <-chan error
}

type Config struct {
	BatchSize     int
	SweepInterval time.Duration
}

type Worker struct {
	id       string
	queue    Queue
	router   router.Router
	listener Notifications
	cfg      Config
}

// NewWorker builds a worker. listener may be nil, leaving only the sweep.
func NewWorker(q Queue, r router.Router, listener Notifications, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Worker{
		id:       "mo-dispatch-" + uuid.NewString()[:8],
		queue:    q,
		router:   r,
		listener: listener,
		cfg:      cfg,
	}
}

// Run drains the backlog, then again on every notification and sweep tick.
// It returns nil on cancellation and the error of a failed batch otherwise.
func (w *Worker) Run(ctx context.Context) error {
	loop := workers.Loop[pgnotify.Notification]{
		Name:      w.id,
		Interval:  w.cfg.SweepInterval,
		BatchSize: w.cfg.BatchSize,
		Work:      w.work,
	}
	if w.listener != nil {
		loop.Wake = w.listener.C()
		loop.Errs = w.listener.Err()
	}
	return loop.Run(ctx)
}

func (w *Worker) work(ctx context.Context, batchSize int) (int, error) {
	rows, err := w.queue.ClaimInbound(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return len(rows), w.Process(ctx, rows)
}

// Process decodes and forwards one claimed batch. Undecodable rows are marked
// ERROR on the spot. If the router fails, rows already forwarded are marked
// DONE, the rest go back to NEW and the router error is returned.
func (w *Worker) Process(ctx context.Context, rows []store.InboundMessage) error {
	forwarded := make([]int64, 0, len(rows))

	for i, m := range rows {
		logCtx := logging.ContextWithMOMessageID(logging.ContextWithBackend(ctx, m.BackendName), m.ID)

		text, err := w.decode(m)
		if err != nil {
			if err := w.queue.MarkInboundError(ctx, m.ID, err.Error()); err != nil {
				return err
			}
			metrics.InboundDispatched.WithLabelValues("error").Inc()
			slog.WarnContext(logCtx, "Inbound message could not be decoded", slog.Any("error", err))
			continue
		}

		msg := router.Message{
			InboundID: m.ID,
			Backend:   m.BackendName,
			From:      m.Params.SourceAddr,
			To:        m.Params.DestinationAddr,
			Text:      text,
		}
		if err := w.router.Receive(ctx, msg); err != nil {
			slog.ErrorContext(logCtx, "Router rejected inbound message", slog.Any("error", err))
			if err := w.markDone(ctx, forwarded); err != nil {
				return err
			}
			if err := w.release(ctx, rows[i:]); err != nil {
				return err
			}
			return fmt.Errorf("route inbound message %d: %w", m.ID, err)
		}
		forwarded = append(forwarded, m.ID)
	}

	return w.markDone(ctx, forwarded)
}

func (w *Worker) decode(m store.InboundMessage) (string, error) {
	if m.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrUndecodable, m.Error)
	}
	return Decode(m.Raw, m.Params.DataCoding)
}

func (w *Worker) markDone(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := w.queue.MarkInboundDone(ctx, ids); err != nil {
		return err
	}
	metrics.InboundDispatched.WithLabelValues("done").Add(float64(len(ids)))
	return nil
}

func (w *Worker) release(ctx context.Context, rows []store.InboundMessage) error {
	ids := make([]int64, len(rows))
	for i, m := range rows {
		ids[i] = m.ID
	}
	n, err := w.queue.ReleaseInbound(ctx, ids)
	if err != nil {
		return err
	}
	metrics.InboundDispatched.WithLabelValues("released").Add(float64(n))
	slog.WarnContext(ctx, "Released unforwarded inbound messages", slog.Int64("count", n))
	return nil
}
