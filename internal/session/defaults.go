package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SubmitDefaults are the connection-wide submit_sm attributes. A message's own
// params override them field by field.
type SubmitDefaults struct {
	SourceAddr         string `json:"source_addr"`
	SourceAddrTON      *int   `json:"source_addr_ton"`
	SourceAddrNPI      *int   `json:"source_addr_npi"`
	DestAddrTON        *int   `json:"dest_addr_ton"`
	DestAddrNPI        *int   `json:"dest_addr_npi"`
	ServiceType        string `json:"service_type"`
	EsmClass           *int   `json:"esm_class"`
	ProtocolID         *int   `json:"protocol_id"`
	RegisteredDelivery *int   `json:"registered_delivery"`
	PriorityFlag       *int   `json:"priority_flag"`
	DataCoding         *int   `json:"data_coding"`
}

// ParseSubmitDefaults decodes the SMPPLIB_SUBMIT_SM_PARAMS JSON object.
func ParseSubmitDefaults(s string) (SubmitDefaults, error) {
	var d SubmitDefaults
	s = strings.TrimSpace(s)
	if s == "" {
		return d, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return d, fmt.Errorf("submit_sm params: %w", err)
	}
	return d, nil
}
