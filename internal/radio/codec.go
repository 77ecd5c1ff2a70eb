package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/skobkin/resqrelay/internal/domain"
)

// Broadcast payload layout, big-endian:
//
//	0..4   latitude  float32
//	4..8   longitude float32
//	8      category code
//	9..12  sender id, 24 bits
//	12..   UTF-8 text, at most MaxTextBytes
const (
	HeaderLen     = 12
	MaxTextBytes  = 14
	MaxPayloadLen = HeaderLen + MaxTextBytes
)

var ErrMalformedPayload = errors.New("malformed payload")

// Payload is a decoded mesh broadcast.
type Payload struct {
	Latitude     float32
	Longitude    float32
	CategoryCode byte
	Category     domain.Category
	SenderID     domain.DeviceID
	Text         string
}

// SenderHex is the 6-character sender id used in message ids.
func (p Payload) SenderHex() string {
	return p.SenderID.Hex()
}

// EncodePayload packs a broadcast. Text is cut at byte MaxTextBytes even if
// that splits a multi-byte code point; DecodePayload tolerates such a tail.
func EncodePayload(sender domain.DeviceID, lat, lon float32, category domain.Category, text string) ([]byte, error) {
	if !sender.Valid() {
		return nil, fmt.Errorf("sender id %d exceeds 24 bits", sender)
	}
	code, err := category.Code()
	if err != nil {
		return nil, fmt.Errorf("encode category %q: %w", category, err)
	}

	body := []byte(text)
	if len(body) > MaxTextBytes {
		body = body[:MaxTextBytes]
	}

	out := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint32(out[0:4], math.Float32bits(lat))
	binary.BigEndian.PutUint32(out[4:8], math.Float32bits(lon))
	out[8] = code
	out[9] = byte(sender >> 16)
	out[10] = byte(sender >> 8)
	out[11] = byte(sender)
	copy(out[HeaderLen:], body)

	return out, nil
}

func DecodePayload(raw []byte) (Payload, error) {
	if len(raw) < HeaderLen {
		return Payload{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPayload, len(raw), HeaderLen)
	}

	text, ok := decodeText(raw[HeaderLen:])
	if !ok {
		return Payload{}, fmt.Errorf("%w: text is not valid UTF-8", ErrMalformedPayload)
	}

	code := raw[8]

	return Payload{
		Latitude:     math.Float32frombits(binary.BigEndian.Uint32(raw[0:4])),
		Longitude:    math.Float32frombits(binary.BigEndian.Uint32(raw[4:8])),
		CategoryCode: code,
		Category:     domain.CategoryFromCode(code),
		SenderID:     domain.DeviceID(uint32(raw[9])<<16 | uint32(raw[10])<<8 | uint32(raw[11])),
		Text:         text,
	}, nil
}

// decodeText accepts valid UTF-8, plus a full-length field whose only defect
// is a code point cut short by encoder truncation. The partial tail is dropped.
func decodeText(b []byte) (string, bool) {
	if utf8.Valid(b) {
		return string(b), true
	}
	if len(b) != MaxTextBytes {
		return "", false
	}

	for cut := 1; cut < utf8.UTFMax && cut <= len(b); cut++ {
		head, tail := b[:len(b)-cut], b[len(b)-cut:]
		if utf8.Valid(head) && !utf8.FullRune(tail) && utf8.RuneStart(tail[0]) {
			return string(head), true
		}
	}

	return "", false
}
