// Package pgnotify wraps PostgreSQL LISTEN/NOTIFY: a publisher that runs on the
// shared pool and a listener that owns a dedicated connection.
package pgnotify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Notification is one NOTIFY delivered to a listening session.
type Notification struct {
	Channel string
	Payload string
}

// ID returns the message id carried in the payload, if any.
func (n Notification) ID() (int64, bool) {
	p := strings.TrimSpace(n.Payload)
	if p == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(p, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Publisher sends notifications.
type Publisher struct {
	db execer
}

func NewPublisher(db execer) *Publisher {
	return &Publisher{db: db}
}

// Publish runs pg_notify. The notification is delivered when the surrounding
// transaction, if any, commits.
func (p *Publisher) Publish(ctx context.Context, channel, payload string) error {
	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// PublishID publishes a message id as the payload.
func (p *Publisher) PublishID(ctx context.Context, channel string, id int64) error {
	return p.Publish(ctx, channel, strconv.FormatInt(id, 10))
}

// Conn is what a Listener needs from its connection. *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

var _ Conn = (*pgx.Conn)(nil)

const bufferSize = 64

// Listener receives notifications on a dedicated connection.
type Listener struct {
	conn   Conn
	ch     chan Notification
	errc   chan error
	cancel context.CancelFunc
	done   chan struct{}
}

// Listen subscribes conn to channels and starts receiving. Only notifications
// published after Listen returns are observed.
func Listen(ctx context.Context, conn Conn, channels ...string) (*Listener, error) {
	for _, c := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{c}.Sanitize()); err != nil {
			return nil, fmt.Errorf("listen %s: %w", c, err)
		}
		slog.DebugContext(ctx, "Listening for notifications", slog.String("channel", c))
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		conn:   conn,
		ch:     make(chan Notification, bufferSize),
		errc:   make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.receive(lctx)
	return l, nil
}

func (l *Listener) receive(ctx context.Context) {
	defer close(l.done)
	for {
		n, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.errc <- fmt.Errorf("wait for notification: %w", err)
			}
			return
		}
		select {
		case l.ch <- Notification{Channel: n.Channel, Payload: n.Payload}:
		case <-ctx.Done():
			return
		}
	}
}

// C yields received notifications.
func (l *Listener) C() <-chan Notification { return l.ch }

// Err yields the error that stopped the listener. Nothing is sent after Close.
func (l *Listener) Err() <-chan error { return l.errc }

// Close stops receiving and closes the connection.
func (l *Listener) Close(ctx context.Context) error {
	l.cancel()
	<-l.done
	return l.conn.Close(ctx)
}
