package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
)

// esm_class message type bits marking an SMSC delivery receipt.
const esmDeliveryReceipt = 0x04

var receiptIDPattern = regexp.MustCompile(`id:(\S+)`)

func (s *Session) handleFrame(ctx context.Context, f frame) error {
	if f.err != nil {
		return fmt.Errorf("read pdu: %w", f.err)
	}

	cmd := commandName(f.p)
	metrics.PDUsReceived.WithLabelValues(s.cfg.Backend.Name, cmd).Inc()
	ctx = logging.ContextWithPDUInfo(ctx, cmd, seqOf(f.p))

	switch p := f.p.(type) {
	case *pdu.DeliverSM:
		return s.onDeliverSM(ctx, p)
	case *pdu.SubmitSMResp:
		return s.onAck(ctx, seqOf(p), p.GetHeader().CommandStatus, p.MessageID)
	case *pdu.GenericNack:
		return s.onAck(ctx, seqOf(p), p.GetHeader().CommandStatus, "")
	case *pdu.EnquireLink:
		return s.write(ctx, p.GetResponse())
	case *pdu.EnquireLinkResp:
		slog.DebugContext(ctx, "Keepalive answered")
	case *pdu.Unbind:
		if err := s.write(ctx, p.GetResponse()); err != nil {
			slog.WarnContext(ctx, "Failed to answer unbind", slog.Any("error", err))
		}
		s.setStatus(ctx, codes.StatusUnbound)
		return ErrUnboundByPeer
	case *pdu.UnbindResp:
		slog.InfoContext(ctx, "Unexpected unbind_resp")
	default:
		slog.WarnContext(ctx, "Unhandled PDU", slog.String("command", cmd))
	}
	return nil
}

// onAck correlates submit_sm_resp and generic_nack with the attempt sent under
// the same sequence number.
func (s *Session) onAck(ctx context.Context, seq uint32, status data.CommandStatusType, remoteID string) error {
	if remoteID != "" {
		ctx = logging.ContextWithRemoteMsgID(ctx, remoteID)
	}

	matched, err := s.deps.Queue.RecordAck(ctx, s.cfg.Backend.ID, seq, int32(status), remoteID)
	if err != nil {
		return err
	}
	metrics.SubmitAcks.WithLabelValues(s.cfg.Backend.Name, errormapper.Code(status), metrics.Bool(matched)).Inc()

	if !matched {
		slog.WarnContext(ctx, "Acknowledgement for unknown sequence number", slog.String("status", errormapper.Describe(status)))
		return nil
	}
	if status != data.ESME_ROK {
		slog.WarnContext(ctx, "Carrier rejected message",
			slog.String("status_code", errormapper.Code(status)),
			slog.String("status", errormapper.Describe(status)),
			slog.Bool("throttled", errormapper.IsThrottling(status)),
		)
		return nil
	}
	slog.DebugContext(ctx, "Message accepted by carrier")
	return nil
}

func (s *Session) onDeliverSM(ctx context.Context, p *pdu.DeliverSM) error {
	raw, err := p.Message.GetMessageData()
	if err != nil {
		return fmt.Errorf("deliver_sm payload: %w", err)
	}

	if remoteID, ok := receiptID(p, raw); ok {
		if err := s.onReceipt(ctx, remoteID, raw); err != nil {
			return err
		}
	} else if err := s.onInbound(ctx, p, raw); err != nil {
		return err
	}
	return s.write(ctx, p.GetResponse())
}

func (s *Session) onReceipt(ctx context.Context, remoteID string, report []byte) error {
	ctx = logging.ContextWithRemoteMsgID(ctx, remoteID)
	matched, err := s.deps.Queue.RecordReceipt(ctx, s.cfg.Backend.ID, remoteID, report)
	if err != nil {
		return err
	}
	metrics.Receipts.WithLabelValues(s.cfg.Backend.Name, metrics.Bool(matched)).Inc()
	if !matched {
		slog.WarnContext(ctx, "Delivery receipt matches no attempt")
		return nil
	}
	slog.InfoContext(ctx, "Message delivered")
	return nil
}

func (s *Session) onInbound(ctx context.Context, p *pdu.DeliverSM, raw []byte) error {
	id, err := s.deps.Queue.InsertInbound(ctx, store.NewInbound{
		BackendID: s.cfg.Backend.ID,
		Raw:       raw,
		Params:    inboundParams(p),
	})
	if err != nil {
		return err
	}
	ctx = logging.ContextWithMOMessageID(ctx, id)

	if err := s.deps.Publisher.Publish(ctx, s.cfg.InboundChannel, strconv.FormatInt(id, 10)); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Inbound message stored", slog.String("from", p.SourceAddr.Address()))
	return nil
}

// receiptID extracts the carrier message id from a delivery receipt. The TLV
// wins; otherwise a receipt-flagged esm_class with an "id:" field in the text.
func receiptID(p *pdu.DeliverSM, raw []byte) (string, bool) {
	if f, ok := p.OptionalParameters[pdu.TagReceiptedMessageID]; ok {
		if id := string(bytes.TrimRight(f.Data, "\x00")); id != "" {
			return id, true
		}
	}
	if p.EsmClass&esmDeliveryReceipt == 0 {
		return "", false
	}
	m := receiptIDPattern.FindSubmatch(raw)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

func inboundParams(p *pdu.DeliverSM) store.Params {
	params := store.Params{
		SourceAddr:      p.SourceAddr.Address(),
		SourceAddrTON:   store.IntPtr(int(p.SourceAddr.Ton())),
		SourceAddrNPI:   store.IntPtr(int(p.SourceAddr.Npi())),
		DestinationAddr: p.DestAddr.Address(),
		DestAddrTON:     store.IntPtr(int(p.DestAddr.Ton())),
		DestAddrNPI:     store.IntPtr(int(p.DestAddr.Npi())),
		EsmClass:        store.IntPtr(int(p.EsmClass)),
		ProtocolID:      store.IntPtr(int(p.ProtocolID)),
		PriorityFlag:    store.IntPtr(int(p.PriorityFlag)),
		ServiceType:     p.ServiceType,
	}
	if enc := p.Message.Encoding(); enc != nil {
		params.DataCoding = store.IntPtr(int(enc.DataCoding()))
	} else {
		params.DataCoding = store.IntPtr(store.UnknownDataCoding)
	}
	for tag, f := range p.OptionalParameters {
		v := bytes.TrimRight(f.Data, "\x00")
		if tag == pdu.TagReceiptedMessageID {
			params.ReceiptedMessageID = string(v)
			continue
		}
		params.SetExtra(fmt.Sprintf("tlv_0x%04x", uint16(tag)), store.PrintableOrBase64(v))
	}
	return params
}
