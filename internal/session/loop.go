package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linxGnu/gosmpp/pdu"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/pkg/codes"
)

// minWait keeps a rate-limited backlog from spinning the loop.
const minWait = 10 * time.Millisecond

func (s *Session) loop(ctx, work context.Context) error {
	var (
		notes   <-chan pgnotify.Notification
		noteErr <-chan error
	)
	if s.deps.Notifications != nil {
		notes = s.deps.Notifications.C()
		noteErr = s.deps.Notifications.Err()
	}

	for {
		if ctx.Err() != nil {
			return s.shutdown(ctx)
		}

		wait, keepalive := s.cfg.SocketTimeout, true
		if s.backlog {
			if d := s.nextTokenDelay(); d < wait {
				wait, keepalive = d, false
			}
		}
		timer := time.NewTimer(wait)

		var err error
		select {
		case f := <-s.frames:
			err = s.handleFrame(work, f)
		case n := <-notes:
			err = s.onNotification(work, n, notes)
		case lerr := <-noteErr:
			err = fmt.Errorf("notification listener: %w", lerr)
		case <-timer.C:
			err = s.onTimeout(work, keepalive)
		case <-ctx.Done():
		}
		timer.Stop()

		if err != nil {
			slog.ErrorContext(ctx, "Session loop failed", slog.Any("error", err))
			return err
		}
		s.deps.Pinger.Success()
	}
}

// onNotification drains whatever else is queued on the channel, then claims.
func (s *Session) onNotification(ctx context.Context, first pgnotify.Notification, notes <-chan pgnotify.Notification) error {
	lastID, hasID := first.ID()
	count := 1
	for more := true; more; {
		select {
		case n := <-notes:
			count++
			if id, ok := n.ID(); ok {
				lastID, hasID = id, true
			}
		default:
			more = false
		}
	}
	slog.DebugContext(ctx, "Notifications received", slog.Int("count", count))

	if !s.cfg.TransactionalOnly {
		return s.drain(ctx, store.OutboundFilter{})
	}
	if !hasID {
		return nil
	}
	return s.drain(ctx, store.OutboundFilter{ID: &lastID, TransactionalOnly: true})
}

func (s *Session) onTimeout(ctx context.Context, keepalive bool) error {
	if keepalive {
		if err := s.send(ctx, pdu.NewEnquireLink()); err != nil {
			return fmt.Errorf("enquire_link: %w", err)
		}
	}
	return s.drain(ctx, s.timeoutFilter())
}

func (s *Session) timeoutFilter() store.OutboundFilter {
	return store.OutboundFilter{TransactionalOnly: s.cfg.TransactionalOnly}
}

// drain claims and submits until the backlog is empty or the rate limit is
// spent. It never waits on the limiter.
func (s *Session) drain(ctx context.Context, filter store.OutboundFilter) error {
	s.setStatus(ctx, codes.StatusDraining)
	defer s.setStatus(ctx, codes.StatusListening)

	start := time.Now()
	defer func() {
		metrics.DrainDuration.WithLabelValues(s.cfg.Backend.Name).Observe(time.Since(start).Seconds())
	}()

	for {
		limit := s.allowance()
		if limit == 0 {
			s.backlog = true
			return nil
		}

		msgs, err := s.deps.Queue.ClaimOutbound(ctx, s.cfg.Backend.ID, limit, filter)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			s.limiter.ReserveN(time.Now(), len(msgs))
			metrics.OutboundClaimed.WithLabelValues(s.cfg.Backend.Name).Add(float64(len(msgs)))
			if err := s.submitBatch(ctx, msgs); err != nil {
				return err
			}
		}

		if len(msgs) < limit || filter.ID != nil {
			s.backlog = false
			return nil
		}
	}
}

// allowance is how many rows the limiter lets us claim right now.
func (s *Session) allowance() int {
	n := int(s.limiter.Tokens())
	if n > s.cfg.MessagesPerSecond {
		n = s.cfg.MessagesPerSecond
	}
	if n < 0 {
		return 0
	}
	return n
}

// nextTokenDelay is how long until the limiter has a whole token again.
func (s *Session) nextTokenDelay() time.Duration {
	missing := 1 - s.limiter.Tokens()
	if missing <= 0 {
		return minWait
	}
	d := time.Duration(missing / float64(s.limiter.Limit()) * float64(time.Second))
	if d < minWait {
		return minWait
	}
	return d
}
