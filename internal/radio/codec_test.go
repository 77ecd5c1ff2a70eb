package radio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/skobkin/resqrelay/internal/domain"
)

func TestEncodePayloadLayout(t *testing.T) {
	got, err := EncodePayload(0x0A0B0C, 1.5, -2.25, domain.CategoryTrapped, "stuck")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{
		0x3F, 0xC0, 0x00, 0x00, // 1.5
		0xC0, 0x10, 0x00, 0x00, // -2.25
		0x04,
		0x0A, 0x0B, 0x0C,
		's', 't', 'u', 'c', 'k',
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected payload:\n got %X\nwant %X", got, want)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		sender   domain.DeviceID
		lat, lon float32
		category domain.Category
		text     string
	}{
		{name: "ascii", sender: 0xABCDEF, lat: 52.52, lon: 13.405, category: domain.CategoryMedical, text: "help"},
		{name: "empty text", sender: 0, lat: 0, lon: 0, category: domain.CategoryGeneral, text: ""},
		{name: "max sender", sender: domain.MaxDeviceID, lat: -90, lon: 180, category: domain.CategoryOther, text: "14 bytes exact"},
		{name: "multibyte", sender: 0x000001, lat: 35.6762, lon: 139.6503, category: domain.CategoryFood, text: "水が必要"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodePayload(tc.sender, tc.lat, tc.lon, tc.category, tc.text)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(raw) != HeaderLen+len(tc.text) {
				t.Fatalf("unexpected length %d", len(raw))
			}
			p, err := DecodePayload(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Latitude != tc.lat || p.Longitude != tc.lon {
				t.Fatalf("coordinates mismatch: %v,%v", p.Latitude, p.Longitude)
			}
			if p.Category != tc.category || p.SenderID != tc.sender || p.Text != tc.text {
				t.Fatalf("fields mismatch: %+v", p)
			}
			if p.SenderHex() != tc.sender.Hex() {
				t.Fatalf("sender hex mismatch: %s", p.SenderHex())
			}
		})
	}
}

func TestEncodePayloadTruncatesText(t *testing.T) {
	text := "trapped under the bridge"
	raw, err := EncodePayload(1, 0, 0, domain.CategoryTrapped, text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != MaxPayloadLen {
		t.Fatalf("expected %d bytes, got %d", MaxPayloadLen, len(raw))
	}
	if got := string(raw[HeaderLen:]); got != text[:MaxTextBytes] {
		t.Fatalf("unexpected truncated text %q", got)
	}
}

func TestTruncationSplittingCodePointStillDecodes(t *testing.T) {
	// 13 ASCII bytes then a 3-byte rune: encoder keeps one byte of it.
	text := "aaaaaaaaaaaaa€"
	raw, err := EncodePayload(1, 0, 0, domain.CategoryGeneral, text)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(raw[HeaderLen:], []byte(text)[:MaxTextBytes]) {
		t.Fatalf("text field is not the raw 14-byte prefix")
	}
	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Text != "aaaaaaaaaaaaa" {
		t.Fatalf("expected partial rune to be dropped, got %q", p.Text)
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "short header", raw: make([]byte, HeaderLen-1)},
		{name: "invalid utf8", raw: append(make([]byte, HeaderLen), 0xFF, 'a')},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodePayload(tc.raw); !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestDecodePayloadUnknownCategoryIsOther(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[8] = 0x7F
	p, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Category != domain.CategoryOther || p.CategoryCode != 0x7F {
		t.Fatalf("unexpected category %s code %d", p.Category, p.CategoryCode)
	}
}

func TestEncodePayloadRejectsInvalidInput(t *testing.T) {
	if _, err := EncodePayload(domain.MaxDeviceID+1, 0, 0, domain.CategoryGeneral, "x"); err == nil {
		t.Fatalf("expected error for oversized sender")
	}
	if _, err := EncodePayload(1, 0, 0, domain.Category("FIRE"), "x"); !errors.Is(err, domain.ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}
