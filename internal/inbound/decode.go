package inbound

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/linxGnu/gosmpp/data"
	"github.com/thrillee/smppgateway/internal/store"
)

// ErrUndecodable marks a payload that cannot be turned into text. Such rows go
// to ERROR and are never retried.
var ErrUndecodable = errors.New("undecodable short message")

// Decode turns a raw short message into text using its declared data_coding.
// A missing or zero coding is the SMSC default alphabet, read as GSM 03.38.
func Decode(raw []byte, dataCoding *int) (string, error) {
	code := 0
	if dataCoding != nil {
		code = *dataCoding
	}
	if code == store.UnknownDataCoding {
		return "", fmt.Errorf("%w: data_coding declared by the carrier is not supported", ErrUndecodable)
	}
	if code < 0 || code > 0xFF {
		return "", fmt.Errorf("%w: data_coding %d out of range", ErrUndecodable, code)
	}

	var enc data.Encoding
	if code == int(data.GSM7BITCoding) {
		enc = data.GSM7BIT
	} else {
		enc = data.FromDataCoding(byte(code))
	}
	if enc == nil {
		return "", fmt.Errorf("%w: unsupported data_coding 0x%02x", ErrUndecodable, code)
	}
	if code == int(data.UCS2Coding) && len(raw)%2 != 0 {
		return "", fmt.Errorf("%w: odd-length UCS2 payload (%d bytes)", ErrUndecodable, len(raw))
	}

	text, err := enc.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: data_coding 0x%02x produced invalid UTF-8", ErrUndecodable, code)
	}
	return text, nil
}
