package session

import (
	"context"
	"log/slog"

	"github.com/linxGnu/gosmpp/pdu"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/store"
)

// submitBatch sends every part of every claimed message, recording one attempt
// per part, then settles the batch: written messages go to SENT, messages that
// could not be encoded go to ERROR. A transport or storage fault stops the
// batch; what was fully written is still settled before the error returns.
func (s *Session) submitBatch(ctx context.Context, msgs []store.OutboundMessage) error {
	var sent, failed []int64

	var fatal error
	for _, msg := range msgs {
		mctx := logging.ContextWithMTMessageID(ctx, msg.ID)

		parts, err := s.buildParts(msg)
		if err != nil {
			slog.ErrorContext(mctx, "Cannot build submit_sm, marking message failed", slog.Any("error", err))
			failed = append(failed, msg.ID)
			continue
		}

		if fatal = s.submitParts(mctx, msg, parts); fatal != nil {
			break
		}
		sent = append(sent, msg.ID)
	}

	if err := s.settle(ctx, sent, failed); err != nil && fatal == nil {
		fatal = err
	}
	return fatal
}

func (s *Session) submitParts(ctx context.Context, msg store.OutboundMessage, parts []*pdu.SubmitSM) error {
	for i, sm := range parts {
		if err := s.send(ctx, sm); err != nil {
			return err
		}
		seq := seqOf(sm)
		if err := s.deps.Queue.InsertAttempt(ctx, store.NewAttempt{
			MTMessageID:    msg.ID,
			BackendID:      s.cfg.Backend.ID,
			SequenceNumber: seq,
		}); err != nil {
			return err
		}
		slog.DebugContext(logging.ContextWithSeqNum(ctx, seq), "Part submitted", slog.Int("part", i+1), slog.Int("parts", len(parts)))
	}
	slog.InfoContext(ctx, "Message submitted", slog.Int("parts", len(parts)))
	return nil
}

func (s *Session) settle(ctx context.Context, sent, failed []int64) error {
	if len(sent) > 0 {
		if _, err := s.deps.Queue.MarkOutboundSent(ctx, sent); err != nil {
			return err
		}
		metrics.OutboundFinished.WithLabelValues(s.cfg.Backend.Name, string(store.OutboundSent)).Add(float64(len(sent)))
	}
	if len(failed) > 0 {
		if _, err := s.deps.Queue.MarkOutboundError(ctx, failed); err != nil {
			return err
		}
		metrics.OutboundFinished.WithLabelValues(s.cfg.Backend.Name, string(store.OutboundError)).Add(float64(len(failed)))
	}
	return nil
}
