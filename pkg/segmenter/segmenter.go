package segmenter

import (
	"unicode/utf16"

	"github.com/linxGnu/gosmpp/data"
)

const (
	// Max lengths per segment, in septets for GSM7 and UTF-16 code units for UCS2.
	maxGSM7Single    = 160
	maxGSM7Multipart = 153 // 160 - 7 septets for the concatenation UDH
	maxUCS2Single    = 70
	maxUCS2Multipart = 67 // 70 - 3 code units (6 bytes) for the concatenation UDH
)

// Plan describes how a message will be put on the wire.
type Plan struct {
	Encoding data.Encoding
	UCS2     bool
	Units    int // septets (GSM7) or UTF-16 code units (UCS2)
	Parts    int
}

// gsm7Basic is the GSM 03.38 default alphabet.
var gsm7Basic = map[rune]struct{}{}

// gsm7Extension characters cost two septets (escape + char).
var gsm7Extension = map[rune]struct{}{
	'\f': {}, '^': {}, '{': {}, '}': {}, '\\': {}, '[': {}, '~': {}, ']': {}, '|': {}, '€': {},
}

func init() {
	const basic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"
	for _, r := range basic {
		gsm7Basic[r] = struct{}{}
	}
}

// GSM7Septets returns the septet count of s and whether s fits the GSM 03.38
// alphabet (basic table plus extension table).
// See https://en.wikipedia.org/wiki/GSM_03.38
func GSM7Septets(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if _, ok := gsm7Basic[r]; ok {
			n++
			continue
		}
		if _, ok := gsm7Extension[r]; ok {
			n += 2
			continue
		}
		return 0, false
	}
	return n, true
}

// Analyze picks the encoding for message and counts the parts it will need.
func Analyze(message string) Plan {
	if septets, ok := GSM7Septets(message); ok {
		return Plan{
			Encoding: data.GSM7BIT,
			Units:    septets,
			Parts:    parts(septets, maxGSM7Single, maxGSM7Multipart),
		}
	}
	units := len(utf16.Encode([]rune(message)))
	return Plan{
		Encoding: data.UCS2,
		UCS2:     true,
		Units:    units,
		Parts:    parts(units, maxUCS2Single, maxUCS2Multipart),
	}
}

// AnalyzeWith counts parts for message when the caller forces an encoding.
// Encodings other than GSM7 and UCS2 are single-byte, so bytes equal characters.
func AnalyzeWith(message string, enc data.Encoding) Plan {
	switch enc.DataCoding() {
	case data.UCS2.DataCoding():
		units := len(utf16.Encode([]rune(message)))
		return Plan{Encoding: enc, UCS2: true, Units: units, Parts: parts(units, maxUCS2Single, maxUCS2Multipart)}
	case data.GSM7BIT.DataCoding():
		septets, ok := GSM7Septets(message)
		if !ok {
			septets = len([]rune(message))
		}
		return Plan{Encoding: enc, Units: septets, Parts: parts(septets, maxGSM7Single, maxGSM7Multipart)}
	default:
		n := len([]rune(message))
		return Plan{Encoding: enc, Units: n, Parts: parts(n, 140, 134)}
	}
}

func parts(units, single, multi int) int {
	if units <= single {
		return 1 // Empty message is one part
	}
	return (units + multi - 1) / multi
}
