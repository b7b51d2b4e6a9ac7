package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"github.com/stretchr/testify/require"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/pkg/codes"
)

type fakeTransport struct {
	in      chan pdu.PDU
	readErr chan error
	closed  chan struct{}
	once    sync.Once

	bindStatus   data.CommandStatusType
	answerUnbind bool
	// beforeBindResp is delivered ahead of the bind response.
	beforeBindResp []pdu.PDU

	mu      sync.Mutex
	written []pdu.PDU
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:           make(chan pdu.PDU, 16),
		readErr:      make(chan error, 1),
		closed:       make(chan struct{}),
		answerUnbind: true,
	}
}

func (t *fakeTransport) ReadPDU() (pdu.PDU, error) {
	select {
	case p := <-t.in:
		return p, nil
	case err := <-t.readErr:
		return nil, err
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WritePDU(p pdu.PDU) error {
	t.mu.Lock()
	t.written = append(t.written, p)
	t.mu.Unlock()

	switch req := p.(type) {
	case *pdu.BindRequest:
		resp := req.GetResponse().(*pdu.BindResp)
		resp.CommandStatus = t.bindStatus
		for _, early := range t.beforeBindResp {
			t.in <- early
		}
		t.in <- resp
	case *pdu.Unbind:
		if t.answerUnbind {
			t.in <- req.GetResponse()
		}
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) sent() []pdu.PDU {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]pdu.PDU(nil), t.written...)
}

func (t *fakeTransport) submits() []*pdu.SubmitSM {
	var out []*pdu.SubmitSM
	for _, p := range t.sent() {
		if sm, ok := p.(*pdu.SubmitSM); ok {
			out = append(out, sm)
		}
	}
	return out
}

// wrote reports whether a PDU of the same type as like, and seq if non-zero, was written.
func (t *fakeTransport) wrote(like pdu.PDU, seq int32) bool {
	for _, p := range t.sent() {
		if commandName(p) == commandName(like) && (seq == 0 || p.GetSequenceNumber() == seq) {
			return true
		}
	}
	return false
}

type fakeDialer struct{ t *fakeTransport }

func (d fakeDialer) Dial(context.Context) (Transport, error) { return d.t, nil }

type fakeQueue struct {
	mu       sync.Mutex
	outbound []*store.OutboundMessage
	attempts []*store.Attempt
	inbound  []store.NewInbound
	limits   []int
}

func newFakeQueue(msgs ...store.OutboundMessage) *fakeQueue {
	q := &fakeQueue{}
	for _, m := range msgs {
		q.add(m)
	}
	return q
}

func (q *fakeQueue) add(m store.OutboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m.Status == "" {
		m.Status = store.OutboundNew
	}
	q.outbound = append(q.outbound, &m)
}

func (q *fakeQueue) ClaimOutbound(_ context.Context, backendID int64, limit int, f store.OutboundFilter) ([]store.OutboundMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limits = append(q.limits, limit)

	var out []store.OutboundMessage
	for _, m := range q.outbound {
		if len(out) == limit {
			break
		}
		if m.BackendID != backendID || m.Status != store.OutboundNew {
			continue
		}
		if f.ID != nil && m.ID != *f.ID {
			continue
		}
		if f.TransactionalOnly && !m.IsTransactional {
			continue
		}
		m.Status = store.OutboundSending
		out = append(out, *m)
	}
	return out, nil
}

func (q *fakeQueue) InsertAttempt(_ context.Context, a store.NewAttempt) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts = append(q.attempts, &store.Attempt{
		ID:             int64(len(q.attempts) + 1),
		MTMessageID:    a.MTMessageID,
		BackendID:      a.BackendID,
		SequenceNumber: a.SequenceNumber,
	})
	return nil
}

func (q *fakeQueue) move(ids []int64, from []store.OutboundStatus, to store.OutboundStatus) int64 {
	var n int64
	for _, m := range q.outbound {
		for _, id := range ids {
			if m.ID != id {
				continue
			}
			for _, f := range from {
				if m.Status == f {
					m.Status = to
					n++
					break
				}
			}
		}
	}
	return n
}

func (q *fakeQueue) MarkOutboundSent(_ context.Context, ids []int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.move(ids, []store.OutboundStatus{store.OutboundSending}, store.OutboundSent), nil
}

func (q *fakeQueue) MarkOutboundError(_ context.Context, ids []int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.move(ids, []store.OutboundStatus{store.OutboundSending}, store.OutboundError), nil
}

func (q *fakeQueue) RecordAck(_ context.Context, backendID int64, seq uint32, status int32, remoteID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.attempts {
		if a.BackendID == backendID && a.SequenceNumber == seq {
			a.CommandStatus = &status
			if remoteID != "" {
				a.RemoteMessageID = &remoteID
			}
			return true, nil
		}
	}
	return false, nil
}

func (q *fakeQueue) RecordReceipt(_ context.Context, backendID int64, remoteID string, report []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var owners []int64
	for _, a := range q.attempts {
		if a.BackendID == backendID && a.RemoteMessageID != nil && *a.RemoteMessageID == remoteID {
			a.DeliveryReport = report
			owners = append(owners, a.MTMessageID)
		}
	}
	q.move(owners, []store.OutboundStatus{store.OutboundSending, store.OutboundSent}, store.OutboundDelivered)
	return len(owners) > 0, nil
}

func (q *fakeQueue) InsertInbound(_ context.Context, in store.NewInbound) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inbound = append(q.inbound, in)
	return int64(len(q.inbound)), nil
}

func (q *fakeQueue) status(id int64) store.OutboundStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.outbound {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func (q *fakeQueue) attemptsFor(id int64) []store.Attempt {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []store.Attempt
	for _, a := range q.attempts {
		if a.MTMessageID == id {
			out = append(out, *a)
		}
	}
	return out
}

func (q *fakeQueue) inboundRows() []store.NewInbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]store.NewInbound(nil), q.inbound...)
}

func (q *fakeQueue) claimLimits() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.limits...)
}

type fakeSequencer struct{ n atomic.Uint32 }

func (s *fakeSequencer) Next(context.Context) (uint32, error) { return s.n.Add(1), nil }

type published struct{ channel, payload string }

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *fakePublisher) Publish(_ context.Context, channel, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{channel, payload})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.sent...)
}

type fakeNotifications struct {
	c    chan pgnotify.Notification
	errc chan error
}

func (n *fakeNotifications) C() <-chan pgnotify.Notification { return n.c }
func (n *fakeNotifications) Err() <-chan error               { return n.errc }

type fakePinger struct{ ok, failed atomic.Int32 }

func (p *fakePinger) Success() { p.ok.Add(1) }
func (p *fakePinger) Failure() { p.failed.Add(1) }

type harness struct {
	t      *testing.T
	tr     *fakeTransport
	q      *fakeQueue
	pub    *fakePublisher
	notes  *fakeNotifications
	pinger *fakePinger
	sess   *Session
	cancel context.CancelFunc
	done   chan error

	waitOnce sync.Once
	err      error
}

func testConfig() Config {
	return Config{
		Backend:           store.Backend{ID: 1, Name: "acme"},
		SystemID:          "gateway",
		Password:          "secret",
		MessagesPerSecond: 20,
		SocketTimeout:     time.Hour,
		ConnectTimeout:    time.Second,
	}
}

func newHarness(t *testing.T, q *fakeQueue) *harness {
	return &harness{
		t:      t,
		tr:     newFakeTransport(),
		q:      q,
		pub:    &fakePublisher{},
		notes:  &fakeNotifications{c: make(chan pgnotify.Notification, 8), errc: make(chan error, 1)},
		pinger: &fakePinger{},
		done:   make(chan error, 1),
	}
}

func (h *harness) start(cfg Config) *harness {
	sess := New(cfg, Deps{
		Dialer:        fakeDialer{h.tr},
		Queue:         h.q,
		Sequencer:     &fakeSequencer{},
		Publisher:     h.pub,
		Notifications: h.notes,
		Pinger:        h.pinger,
	})
	h.sess = sess
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- sess.Run(ctx) }()
	h.t.Cleanup(func() { _ = h.stop() })
	return h
}

// startSession starts a session and waits until it is bound and idle, so
// frames the test injects arrive after bind_resp.
func startSession(t *testing.T, cfg Config, q *fakeQueue) *harness {
	h := newHarness(t, q).start(cfg)
	require.Eventually(t, func() bool { return h.sess.Status() == codes.StatusListening }, waitFor, tick)
	return h
}

func (h *harness) wait() error {
	h.waitOnce.Do(func() {
		select {
		case h.err = <-h.done:
		case <-time.After(5 * time.Second):
			h.t.Error("session did not stop")
		}
	})
	return h.err
}

func (h *harness) stop() error {
	h.cancel()
	return h.wait()
}
