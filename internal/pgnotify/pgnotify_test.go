package pgnotify

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	mu       sync.Mutex
	execs    []string
	incoming chan *pgconn.Notification
	fail     chan error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan *pgconn.Notification, 8), fail: make(chan error, 1)}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-c.incoming:
		return n, nil
	case err := <-c.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestListener_Delivers(t *testing.T) {
	conn := newFakeConn()
	l, err := Listen(context.Background(), conn, "acme", "new_mo_msg")
	require.NoError(t, err)
	assert.Equal(t, []string{`LISTEN "acme"`, `LISTEN "new_mo_msg"`}, conn.execs)

	conn.incoming <- &pgconn.Notification{Channel: "acme", Payload: "42"}

	select {
	case n := <-l.C():
		assert.Equal(t, "acme", n.Channel)
		id, ok := n.ID()
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	require.NoError(t, l.Close(context.Background()))
	assert.True(t, conn.closed)
}

func TestListener_ReportsConnectionError(t *testing.T) {
	conn := newFakeConn()
	l, err := Listen(context.Background(), conn, "acme")
	require.NoError(t, err)

	conn.fail <- errors.New("conn closed")

	select {
	case err := <-l.Err():
		assert.ErrorContains(t, err, "conn closed")
	case <-time.After(time.Second):
		t.Fatal("error not reported")
	}
	require.NoError(t, l.Close(context.Background()))
}

func TestNotification_ID(t *testing.T) {
	_, ok := Notification{}.ID()
	assert.False(t, ok)
	_, ok = Notification{Payload: "abc"}.ID()
	assert.False(t, ok)
	id, ok := Notification{Payload: " 7 "}.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestPublisher(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs("acme", "").
		WillReturnResult(pgconn.NewCommandTag("SELECT 1"))
	mockPool.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs("acme", "15").
		WillReturnResult(pgconn.NewCommandTag("SELECT 1"))

	p := NewPublisher(mockPool)
	require.NoError(t, p.Publish(context.Background(), "acme", ""))
	require.NoError(t, p.PublishID(context.Background(), "acme", 15))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
