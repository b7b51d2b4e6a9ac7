package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/router"
	"github.com/thrillee/smppgateway/internal/store"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeQueue struct {
	mu       sync.Mutex
	pending  []store.InboundMessage
	done     []int64
	errored  map[int64]string
	released []int64
	claimErr error
}

func newFakeQueue(rows ...store.InboundMessage) *fakeQueue {
	return &fakeQueue{pending: rows, errored: map[int64]string{}}
}

func (q *fakeQueue) ClaimInbound(_ context.Context, limit int) ([]store.InboundMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	n := min(limit, len(q.pending))
	out := q.pending[:n]
	q.pending = q.pending[n:]
	return out, nil
}

func (q *fakeQueue) MarkInboundDone(_ context.Context, ids []int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, ids...)
	return int64(len(ids)), nil
}

func (q *fakeQueue) MarkInboundError(_ context.Context, id int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errored[id] = reason
	return nil
}

func (q *fakeQueue) ReleaseInbound(_ context.Context, ids []int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, ids...)
	return int64(len(ids)), nil
}

func (q *fakeQueue) doneIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.done...)
}

type fakeRouter struct {
	mu     sync.Mutex
	got    []router.Message
	failOn int64
}

func (r *fakeRouter) Receive(_ context.Context, msg router.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.InboundID == r.failOn {
		return errors.New("upstream unavailable")
	}
	r.got = append(r.got, msg)
	return nil
}

func (r *fakeRouter) received() []router.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]router.Message(nil), r.got...)
}

func row(id int64, text string) store.InboundMessage {
	return store.InboundMessage{
		ID:          id,
		BackendName: "acme",
		Raw:         []byte(text),
		Params:      store.Params{SourceAddr: "+15550002", DestinationAddr: "ACME"},
		Status:      store.InboundProcessing,
	}
}

func TestProcess_OneUndecodableOfFive(t *testing.T) {
	bad := row(3, "\x00\x41\x00")
	bad.Params.DataCoding = store.IntPtr(8)
	rows := []store.InboundMessage{row(1, "one"), row(2, "two"), bad, row(4, "four"), row(5, "five")}

	q := newFakeQueue()
	r := &fakeRouter{}
	w := NewWorker(q, r, nil, Config{})

	require.NoError(t, w.Process(context.Background(), rows))

	assert.Equal(t, []int64{1, 2, 4, 5}, q.done)
	require.Contains(t, q.errored, int64(3))
	assert.Contains(t, q.errored[3], "odd-length")
	assert.Empty(t, q.released)
	require.Len(t, r.got, 4)
	assert.Equal(t, router.Message{InboundID: 1, Backend: "acme", From: "+15550002", To: "ACME", Text: "one"}, r.got[0])
}

func TestProcess_RouterFailureMarksDoneThenReleases(t *testing.T) {
	rows := []store.InboundMessage{row(1, "a"), row(2, "b"), row(3, "c"), row(4, "d")}
	q := newFakeQueue()
	r := &fakeRouter{failOn: 3}
	w := NewWorker(q, r, nil, Config{})

	err := w.Process(context.Background(), rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")

	assert.Equal(t, []int64{1, 2}, q.done)
	assert.Equal(t, []int64{3, 4}, q.released)
	assert.Empty(t, q.errored)
}

func TestProcess_ClaimDecodeErrorIsFault(t *testing.T) {
	bad := row(7, "x")
	bad.Error = "decode params: bad data_coding"
	q := newFakeQueue()
	w := NewWorker(q, &fakeRouter{}, nil, Config{})

	require.NoError(t, w.Process(context.Background(), []store.InboundMessage{bad}))
	assert.Contains(t, q.errored[7], "bad data_coding")
	assert.Empty(t, q.done)
}

func TestProcess_UnknownCodingIsFault(t *testing.T) {
	jis := row(8, "\x30\x6B\x3B")
	jis.Params.DataCoding = store.IntPtr(store.UnknownDataCoding)
	q := newFakeQueue()
	r := &fakeRouter{}
	w := NewWorker(q, r, nil, Config{})

	require.NoError(t, w.Process(context.Background(), []store.InboundMessage{jis}))
	require.Contains(t, q.errored, int64(8))
	assert.Empty(t, q.done)
	assert.Empty(t, r.got)
}

type fakeListener struct {
	c    chan pgnotify.Notification
	errc chan error
}

func (l *fakeListener) C() <-chan pgnotify.Notification { return l.c }
func (l *fakeListener) Err() <-chan error               { return l.errc }

func TestWorker_RunDrainsBacklogAndWakes(t *testing.T) {
	var backlog []store.InboundMessage
	for i := int64(1); i <= 5; i++ {
		backlog = append(backlog, row(i, "hi"))
	}
	q := newFakeQueue(backlog...)
	r := &fakeRouter{}
	l := &fakeListener{c: make(chan pgnotify.Notification, 1), errc: make(chan error, 1)}
	w := NewWorker(q, r, l, Config{BatchSize: 2, SweepInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(q.doneIDs()) == 5 }, time.Second, 5*time.Millisecond)

	q.mu.Lock()
	q.pending = append(q.pending, row(6, "late"))
	q.mu.Unlock()
	l.c <- pgnotify.Notification{Channel: "new_mo_msg", Payload: "6"}
	require.Eventually(t, func() bool { return len(q.doneIDs()) == 6 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Len(t, r.received(), 6)
}

func TestWorker_RunStopsOnRouterError(t *testing.T) {
	q := newFakeQueue(row(1, "a"), row(2, "b"))
	w := NewWorker(q, &fakeRouter{failOn: 2}, nil, Config{BatchSize: 10, SweepInterval: time.Hour})

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []int64{1}, q.done)
	assert.Equal(t, []int64{2}, q.released)
}

func TestWorker_RunStopsOnListenerError(t *testing.T) {
	q := newFakeQueue()
	l := &fakeListener{c: make(chan pgnotify.Notification), errc: make(chan error, 1)}
	l.errc <- errors.New("conn closed")
	w := NewWorker(q, &fakeRouter{}, l, Config{SweepInterval: time.Hour})

	assert.EqualError(t, w.Run(context.Background()), "conn closed")
}

func TestWorker_RunClaimError(t *testing.T) {
	q := newFakeQueue()
	q.claimErr = errors.New("db down")
	w := NewWorker(q, &fakeRouter{}, nil, Config{SweepInterval: time.Hour})

	assert.EqualError(t, w.Run(context.Background()), "db down")
}
