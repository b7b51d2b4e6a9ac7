// Package outbound is the write side of the MT queue: it turns a router's
// submit into NEW rows and wakes the backend's session.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/pkg/codes"
)

var (
	ErrNoDestinations  = errors.New("outbound: no destinations")
	ErrInvalidPriority = errors.New("outbound: priority flag out of range")
	ErrInvalidParams   = errors.New("outbound: invalid params")
)

// Inserter stores MT rows.
type Inserter interface {
	InsertOutbound(ctx context.Context, msgs []store.NewOutbound) ([]int64, error)
}

// Publisher wakes a session.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Options are per-submit routing attributes.
type Options struct {
	Source        string
	PriorityFlag  *int
	Transactional bool
	// Params are merged into every row; destination and source are set by Submit.
	Params map[string]any
}

// Config tunes batching and wake-up.
type Config struct {
	SendGroupSize   int
	NotifyThreshold int
	DefaultPriority *int
}

// Backend queues messages for one carrier backend.
type Backend struct {
	backend store.Backend
	db      Inserter
	pub     Publisher
	cfg     Config
}

func NewBackend(b store.Backend, db Inserter, pub Publisher, cfg Config) *Backend {
	if cfg.SendGroupSize <= 0 {
		cfg.SendGroupSize = 100
	}
	return &Backend{backend: b, db: db, pub: pub, cfg: cfg}
}

// Name is the backend name, which is also its notification channel.
func (b *Backend) Name() string { return b.backend.Name }

// Submit queues text for every destination and returns the new row ids.
func (b *Backend) Submit(ctx context.Context, text string, destinations []string, opts Options) ([]int64, error) {
	ctx = logging.ContextWithBackend(ctx, b.backend.Name)

	if len(destinations) == 0 {
		return nil, ErrNoDestinations
	}
	priority := opts.PriorityFlag
	if priority == nil {
		priority = b.cfg.DefaultPriority
	}
	if priority != nil && !codes.ValidPriority(*priority) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, *priority)
	}

	params, err := baseParams(opts)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for start := 0; start < len(destinations); start += b.cfg.SendGroupSize {
		end := min(start+b.cfg.SendGroupSize, len(destinations))

		rows := make([]store.NewOutbound, 0, end-start)
		for _, dest := range destinations[start:end] {
			p := params
			p.DestinationAddr = dest
			rows = append(rows, store.NewOutbound{
				BackendID:       b.backend.ID,
				Text:            text,
				Params:          p,
				PriorityFlag:    priority,
				IsTransactional: opts.Transactional,
			})
		}

		batch, err := b.db.InsertOutbound(ctx, rows)
		if err != nil {
			return ids, fmt.Errorf("queue batch of %d: %w", len(rows), err)
		}
		ids = append(ids, batch...)
		metrics.OutboundQueued.WithLabelValues(b.backend.Name).Add(float64(len(batch)))

		if err := b.notify(ctx, batch, priority, opts.Transactional); err != nil {
			return ids, err
		}
	}

	slog.InfoContext(ctx, "Messages queued", slog.Int("count", len(ids)), slog.Bool("transactional", opts.Transactional))
	return ids, nil
}

func (b *Backend) notify(ctx context.Context, ids []int64, priority *int, transactional bool) error {
	if transactional {
		for _, id := range ids {
			if err := b.pub.Publish(ctx, b.backend.Name, strconv.FormatInt(id, 10)); err != nil {
				return err
			}
		}
		return nil
	}

	p := 0
	if priority != nil {
		p = *priority
	}
	if p < b.cfg.NotifyThreshold {
		slog.DebugContext(ctx, "Batch below notify threshold, leaving it to the periodic drain", slog.Int("priority", p))
		return nil
	}
	return b.pub.Publish(ctx, b.backend.Name, "")
}

// baseParams builds the params shared by every row of a submit. Known keys in
// the pass-through map land in their typed fields.
func baseParams(opts Options) (store.Params, error) {
	var p store.Params
	for k, v := range opts.Params {
		p.SetExtra(k, v)
	}
	if len(p.Extra) > 0 {
		b, err := p.Encode()
		if err != nil {
			return store.Params{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if p, err = store.DecodeParams(b); err != nil {
			return store.Params{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if opts.Source != "" {
		p.SourceAddr = opts.Source
	}
	return p, nil
}
