package session

import (
	"errors"
	"fmt"

	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/thrillee/smppgateway/pkg/segmenter"
)

// esm_class UDHI bit, set on every part of a concatenated message.
const esmUDHI = 0x40

var errNoDestination = errors.New("destination_addr is missing")

// buildParts turns one MT row into the submit_sm PDUs to send, in order. The
// returned PDUs carry no sequence number yet.
func (s *Session) buildParts(msg store.OutboundMessage) ([]*pdu.SubmitSM, error) {
	d := s.cfg.Defaults
	p := msg.Params

	if p.DestinationAddr == "" {
		return nil, errNoDestination
	}

	enc, err := encodingFor(msg.Text, pick(p.DataCoding, d.DataCoding))
	if err != nil {
		return nil, err
	}
	plan := segmenter.AnalyzeWith(msg.Text, enc)

	base := func() (*pdu.SubmitSM, error) {
		sm := pdu.NewSubmitSM().(*pdu.SubmitSM)

		src := pdu.NewAddress()
		src.SetTon(byteOf(pick(p.SourceAddrTON, d.SourceAddrTON)))
		src.SetNpi(byteOf(pick(p.SourceAddrNPI, d.SourceAddrNPI)))
		if err := src.SetAddress(firstNonEmpty(p.SourceAddr, d.SourceAddr)); err != nil {
			return nil, fmt.Errorf("source_addr: %w", err)
		}
		sm.SourceAddr = src

		dst := pdu.NewAddress()
		dst.SetTon(byteOf(pick(p.DestAddrTON, d.DestAddrTON)))
		dst.SetNpi(byteOf(pick(p.DestAddrNPI, d.DestAddrNPI)))
		if err := dst.SetAddress(p.DestinationAddr); err != nil {
			return nil, fmt.Errorf("destination_addr: %w", err)
		}
		sm.DestAddr = dst

		sm.ServiceType = firstNonEmpty(p.ServiceType, d.ServiceType)
		sm.EsmClass = byteOf(pick(p.EsmClass, d.EsmClass))
		sm.ProtocolID = byteOf(pick(p.ProtocolID, d.ProtocolID))
		sm.RegisteredDelivery = byteOf(d.RegisteredDelivery)
		sm.PriorityFlag = byteOf(s.priorityFor(msg))
		return sm, nil
	}

	if plan.Parts <= 1 {
		sm, err := base()
		if err != nil {
			return nil, err
		}
		if err := sm.Message.SetMessageWithEncoding(msg.Text, enc); err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return []*pdu.SubmitSM{sm}, nil
	}

	segments, err := pdu.NewLongMessageWithEncoding(msg.Text, enc)
	if err != nil {
		return nil, fmt.Errorf("split message: %w", err)
	}
	parts := make([]*pdu.SubmitSM, 0, len(segments))
	for _, seg := range segments {
		sm, err := base()
		if err != nil {
			return nil, err
		}
		sm.Message = *seg
		sm.EsmClass |= esmUDHI
		parts = append(parts, sm)
	}
	return parts, nil
}

// priorityFor applies the connection default, overridden by the message's own
// priority when SetPriorityFlag is on.
func (s *Session) priorityFor(msg store.OutboundMessage) *int {
	if s.cfg.SetPriorityFlag {
		if msg.PriorityFlag != nil {
			return msg.PriorityFlag
		}
		if msg.Params.PriorityFlag != nil {
			return msg.Params.PriorityFlag
		}
	}
	return s.cfg.Defaults.PriorityFlag
}

// encodingFor honours an explicit data_coding and otherwise picks GSM 03.38
// when every character fits, UCS2 when not.
func encodingFor(text string, dataCoding *int) (data.Encoding, error) {
	if dataCoding == nil {
		return segmenter.Analyze(text).Encoding, nil
	}
	if *dataCoding < 0 || *dataCoding > 0xFF {
		return nil, fmt.Errorf("data_coding %d out of range", *dataCoding)
	}
	enc := data.FromDataCoding(byte(*dataCoding))
	if enc == nil {
		return nil, fmt.Errorf("unsupported data_coding 0x%02x", *dataCoding)
	}
	return enc, nil
}

func pick(v, fallback *int) *int {
	if v != nil {
		return v
	}
	return fallback
}

func byteOf(v *int) byte {
	if v == nil {
		return 0
	}
	return byte(*v)
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
