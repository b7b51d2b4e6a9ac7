// Package session runs one SMPP transceiver bind for one backend. A single
// goroutine multiplexes carrier frames, database notifications and a socket
// timeout; everything it sends comes out of the durable queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
	"golang.org/x/time/rate"
)

var (
	// ErrBindRejected is returned when the carrier answers the bind with an error status.
	ErrBindRejected = errors.New("session: bind rejected")
	// ErrUnboundByPeer is returned when the carrier sends unbind.
	ErrUnboundByPeer = errors.New("session: unbound by peer")
)

// Queue is the slice of the store a session drives.
type Queue interface {
	ClaimOutbound(ctx context.Context, backendID int64, limit int, filter store.OutboundFilter) ([]store.OutboundMessage, error)
	InsertAttempt(ctx context.Context, a store.NewAttempt) error
	MarkOutboundSent(ctx context.Context, ids []int64) (int64, error)
	MarkOutboundError(ctx context.Context, ids []int64) (int64, error)
	RecordAck(ctx context.Context, backendID int64, seq uint32, commandStatus int32, remoteID string) (bool, error)
	RecordReceipt(ctx context.Context, backendID int64, remoteID string, report []byte) (bool, error)
	InsertInbound(ctx context.Context, in store.NewInbound) (int64, error)
}

// Sequencer hands out sequence numbers.
type Sequencer interface {
	Next(ctx context.Context) (uint32, error)
}

// Publisher announces new inbound rows.
type Publisher interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Notifications is the receiving side of the backend's channel.
type Notifications interface {
	C() <-chan pgnotify.Notification
	Err() <-chan error
}

// Pinger receives liveness signals. Calls must not block.
type Pinger interface {
	Success()
	Failure()
}

type nopPinger struct{}

func (nopPinger) Success() {}
func (nopPinger) Failure() {}

// Config is the per-backend session configuration.
type Config struct {
	Backend           store.Backend
	SystemID          string
	Password          string
	SystemType        string
	InterfaceVersion  byte
	Defaults          SubmitDefaults
	MessagesPerSecond int
	InboundChannel    string
	SetPriorityFlag   bool
	TransactionalOnly bool
	SocketTimeout     time.Duration
	ConnectTimeout    time.Duration
}

// Deps are the collaborators of a Session.
type Deps struct {
	Dialer        Dialer
	Queue         Queue
	Sequencer     Sequencer
	Publisher     Publisher
	Notifications Notifications
	Pinger        Pinger
}

type frame struct {
	p   pdu.PDU
	err error
}

// Session is one carrier bind. It is not safe to call Run concurrently.
type Session struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	status  atomic.Value

	transport  Transport
	frames     chan frame
	stop       chan struct{}
	readerDone chan struct{}

	// backlog is set when the last drain stopped on the rate limit with work left.
	backlog bool
	// early holds frames that arrived while waiting for bind_resp.
	early []frame
}

// New creates a Session. Zero timeouts and rates fall back to the defaults.
func New(cfg Config, deps Deps) *Session {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 20
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.InboundChannel == "" {
		cfg.InboundChannel = codes.DefaultInboundChannel
	}
	if cfg.InterfaceVersion == 0 {
		cfg.InterfaceVersion = 0x34
	}
	if deps.Pinger == nil {
		deps.Pinger = nopPinger{}
	}

	s := &Session{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond),
	}
	s.status.Store(codes.StatusDisconnected)
	return s
}

// Status returns the current session state.
func (s *Session) Status() string {
	return s.status.Load().(string)
}

func (s *Session) setStatus(ctx context.Context, status string) {
	if prev := s.status.Swap(status); prev != status {
		slog.DebugContext(ctx, "Session status changed", slog.Any("from", prev), slog.String("to", status))
	}
}

// Run connects, binds and serves until ctx is cancelled or a fatal error
// occurs. Cancellation unbinds cleanly and returns nil.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx = logging.ContextWithBackend(ctx, s.cfg.Backend.Name)
	defer func() {
		if err != nil {
			s.deps.Pinger.Failure()
		}
	}()

	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.disconnect(ctx)

	if err := s.bind(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	// Work after this point survives cancellation; shutdown is only observed
	// at the top of a loop iteration.
	work := context.WithoutCancel(ctx)

	s.setStatus(ctx, codes.StatusListening)
	for _, f := range s.early {
		if err := s.handleFrame(work, f); err != nil {
			return err
		}
	}
	s.early = nil
	if err := s.drain(work, s.timeoutFilter()); err != nil {
		return err
	}
	return s.loop(ctx, work)
}

func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	slog.InfoContext(ctx, "Connecting to SMSC")
	t, err := s.deps.Dialer.Dial(dialCtx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.transport = t
	s.frames = make(chan frame)
	s.stop = make(chan struct{})
	s.readerDone = make(chan struct{})
	s.setStatus(ctx, codes.StatusConnected)

	go s.readLoop(t)
	return nil
}

func (s *Session) readLoop(t Transport) {
	defer close(s.readerDone)
	for {
		p, err := t.ReadPDU()
		select {
		case s.frames <- frame{p: p, err: err}:
		case <-s.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) disconnect(ctx context.Context) {
	close(s.stop)
	if err := s.transport.Close(); err != nil {
		slog.WarnContext(ctx, "Error closing SMSC connection", slog.Any("error", err))
	}
	<-s.readerDone
	s.setStatus(ctx, codes.StatusDisconnected)
	slog.InfoContext(ctx, "Disconnected from SMSC")
}

func (s *Session) bind(ctx context.Context) error {
	s.setStatus(ctx, codes.StatusBinding)

	req := pdu.NewBindRequest(pdu.Transceiver)
	req.SystemID = s.cfg.SystemID
	req.Password = s.cfg.Password
	req.SystemType = s.cfg.SystemType
	req.InterfaceVersion = s.cfg.InterfaceVersion
	if err := s.send(ctx, req); err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-s.frames:
			if f.err != nil {
				return fmt.Errorf("bind: read: %w", f.err)
			}
			resp, ok := f.p.(*pdu.BindResp)
			if !ok {
				slog.DebugContext(ctx, "Holding PDU received before bind response", slog.String("command", commandName(f.p)))
				s.early = append(s.early, f)
				continue
			}
			if status := resp.GetHeader().CommandStatus; status != data.ESME_ROK {
				return fmt.Errorf("%w: %s (%s)", ErrBindRejected, errormapper.Describe(status), errormapper.Code(status))
			}
			s.setStatus(ctx, codes.StatusBound)
			slog.InfoContext(ctx, "Bound as transceiver", slog.String("system_id", s.cfg.SystemID), slog.String("smsc_system_id", resp.SystemID))
			return nil
		case <-timer.C:
			return fmt.Errorf("bind: no response within %s", s.cfg.ConnectTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// shutdown unbinds and waits briefly for the answer. Failures are logged only.
func (s *Session) shutdown(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.setStatus(ctx, codes.StatusUnbinding)
	slog.InfoContext(ctx, "Shutdown requested, unbinding")

	if err := s.send(ctx, pdu.NewUnbind()); err != nil {
		slog.WarnContext(ctx, "Failed to send unbind", slog.Any("error", err))
		return nil
	}

	timer := time.NewTimer(s.cfg.SocketTimeout)
	defer timer.Stop()
	for {
		select {
		case f := <-s.frames:
			if f.err != nil {
				slog.WarnContext(ctx, "Connection ended while waiting for unbind_resp", slog.Any("error", f.err))
				return nil
			}
			if _, ok := f.p.(*pdu.UnbindResp); ok {
				s.setStatus(ctx, codes.StatusUnbound)
				slog.InfoContext(ctx, "Unbound")
				return nil
			}
			slog.DebugContext(ctx, "Discarding PDU received while unbinding", slog.String("command", commandName(f.p)))
		case <-timer.C:
			slog.WarnContext(ctx, "No unbind_resp before timeout", slog.Duration("timeout", s.cfg.SocketTimeout))
			return nil
		}
	}
}

// send stamps p with a fresh sequence number and writes it.
func (s *Session) send(ctx context.Context, p pdu.PDU) error {
	seq, err := s.deps.Sequencer.Next(ctx)
	if err != nil {
		return err
	}
	p.SetSequenceNumber(int32(seq))
	return s.write(ctx, p)
}

// write puts p on the wire as is, keeping its sequence number.
func (s *Session) write(ctx context.Context, p pdu.PDU) error {
	if err := s.transport.WritePDU(p); err != nil {
		return fmt.Errorf("write %s: %w", commandName(p), err)
	}
	metrics.PDUsSent.WithLabelValues(s.cfg.Backend.Name, commandName(p)).Inc()
	slog.DebugContext(ctx, "PDU sent", slog.String("command", commandName(p)), slog.Uint64("seq_num", uint64(seqOf(p))))
	return nil
}

func seqOf(p pdu.PDU) uint32 {
	return uint32(p.GetSequenceNumber())
}

func commandName(p pdu.PDU) string {
	switch p.(type) {
	case *pdu.BindRequest:
		return "bind_transceiver"
	case *pdu.BindResp:
		return "bind_transceiver_resp"
	case *pdu.SubmitSM:
		return "submit_sm"
	case *pdu.SubmitSMResp:
		return "submit_sm_resp"
	case *pdu.DeliverSM:
		return "deliver_sm"
	case *pdu.DeliverSMResp:
		return "deliver_sm_resp"
	case *pdu.EnquireLink:
		return "enquire_link"
	case *pdu.EnquireLinkResp:
		return "enquire_link_resp"
	case *pdu.Unbind:
		return "unbind"
	case *pdu.UnbindResp:
		return "unbind_resp"
	case *pdu.GenericNack:
		return "generic_nack"
	case nil:
		return "none"
	default:
		return fmt.Sprintf("%T", p)
	}
}
