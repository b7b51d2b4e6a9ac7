package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Params are the protocol attributes stored with a message. Fields the gateway
// reads directly are typed; everything else rides along in Extra untouched.
type Params struct {
	SourceAddr         string
	SourceAddrTON      *int
	SourceAddrNPI      *int
	DestinationAddr    string
	DestAddrTON        *int
	DestAddrNPI        *int
	DataCoding         *int
	EsmClass           *int
	ProtocolID         *int
	PriorityFlag       *int
	ServiceType        string
	ReceiptedMessageID string
	Extra              map[string]any
}

const (
	keySourceAddr         = "source_addr"
	keySourceAddrTON      = "source_addr_ton"
	keySourceAddrNPI      = "source_addr_npi"
	keyDestinationAddr    = "destination_addr"
	keyDestAddrTON        = "dest_addr_ton"
	keyDestAddrNPI        = "dest_addr_npi"
	keyDataCoding         = "data_coding"
	keyEsmClass           = "esm_class"
	keyProtocolID         = "protocol_id"
	keyPriorityFlag       = "priority_flag"
	keyServiceType        = "service_type"
	keyReceiptedMessageID = "receipted_message_id"
)

// MarshalJSON flattens typed fields and Extra into one object. Typed fields win
// over an Extra entry with the same key.
func (p Params) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+12)
	for k, v := range p.Extra {
		m[k] = v
	}
	putString(m, keySourceAddr, p.SourceAddr)
	putInt(m, keySourceAddrTON, p.SourceAddrTON)
	putInt(m, keySourceAddrNPI, p.SourceAddrNPI)
	putString(m, keyDestinationAddr, p.DestinationAddr)
	putInt(m, keyDestAddrTON, p.DestAddrTON)
	putInt(m, keyDestAddrNPI, p.DestAddrNPI)
	putInt(m, keyDataCoding, p.DataCoding)
	putInt(m, keyEsmClass, p.EsmClass)
	putInt(m, keyProtocolID, p.ProtocolID)
	putInt(m, keyPriorityFlag, p.PriorityFlag)
	putString(m, keyServiceType, p.ServiceType)
	putString(m, keyReceiptedMessageID, p.ReceiptedMessageID)
	return json.Marshal(m)
}

// UnmarshalJSON splits a stored object back into typed fields and Extra.
func (p *Params) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Params{}

	var err error
	str := func(key string, dst *string) {
		if v, ok := raw[key]; ok && err == nil {
			delete(raw, key)
			if string(v) != "null" {
				err = json.Unmarshal(v, dst)
			}
		}
	}
	num := func(key string, dst **int) {
		if v, ok := raw[key]; ok && err == nil {
			delete(raw, key)
			*dst, err = intFromJSON(key, v)
		}
	}

	str(keySourceAddr, &p.SourceAddr)
	num(keySourceAddrTON, &p.SourceAddrTON)
	num(keySourceAddrNPI, &p.SourceAddrNPI)
	str(keyDestinationAddr, &p.DestinationAddr)
	num(keyDestAddrTON, &p.DestAddrTON)
	num(keyDestAddrNPI, &p.DestAddrNPI)
	num(keyDataCoding, &p.DataCoding)
	num(keyEsmClass, &p.EsmClass)
	num(keyProtocolID, &p.ProtocolID)
	num(keyPriorityFlag, &p.PriorityFlag)
	str(keyServiceType, &p.ServiceType)
	str(keyReceiptedMessageID, &p.ReceiptedMessageID)
	if err != nil {
		return err
	}

	if len(raw) > 0 {
		p.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("param %s: %w", k, err)
			}
			p.Extra[k] = val
		}
	}
	return nil
}

// SetExtra stores a pass-through value, allocating the bag on first use.
func (p *Params) SetExtra(key string, value any) {
	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
}

// Encode marshals p for a JSONB column.
func (p Params) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return b, nil
}

// DecodeParams parses a JSONB column. NULL or empty input gives zero Params.
func DecodeParams(b []byte) (Params, error) {
	var p Params
	if len(b) == 0 || string(b) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

// PrintableOrBase64 keeps printable ASCII as text and base64-encodes anything else.
func PrintableOrBase64(b []byte) string {
	for _, c := range b {
		if (c < 0x20 || c > 0x7E) && c != '\t' && c != '\n' && c != '\r' && c != '\v' && c != '\f' {
			return base64.StdEncoding.EncodeToString(b)
		}
	}
	return string(b)
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putInt(m map[string]any, key string, v *int) {
	if v != nil {
		m[key] = *v
	}
}

func intFromJSON(key string, v json.RawMessage) (*int, error) {
	if string(v) == "null" {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, fmt.Errorf("param %s: %w", key, err)
	}
	return &n, nil
}

// UnknownDataCoding is stored as data_coding when the carrier declared a coding
// the gateway has no decoder for. Such payloads are never decoded.
const UnknownDataCoding = -1

// IntPtr is a helper for optional integer params.
func IntPtr(v int) *int { return &v }
