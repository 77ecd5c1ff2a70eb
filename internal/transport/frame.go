package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Gateway streams use the same framing as common LoRa serial firmwares:
// 0x94 0xC3, a big-endian u16 length, then the payload.
var frameHeader = [2]byte{0x94, 0xC3}

// Gateway notifications are short acks; anything larger is line noise that
// happened to contain a header.
const maxInboundFrameLen = 4096

type readFullFunc func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	frame := make([]byte, 4+len(payload))
	copy(frame[:2], frameHeader[:])
	// #nosec G115 -- length is bounded by math.MaxUint16 above.
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	return frame, nil
}

func readFrame(readFull readFullFunc) ([]byte, error) {
	for {
		if err := resyncToHeader(readFull); err != nil {
			return nil, err
		}

		var lenBuf [2]byte
		if err := readFull(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		ln := int(binary.BigEndian.Uint16(lenBuf[:]))
		if ln == 0 {
			return nil, fmt.Errorf("invalid frame length: %d", ln)
		}
		if ln > maxInboundFrameLen {
			// resync on the next header
			continue
		}

		payload := make([]byte, ln)
		if err := readFull(payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}

		return payload, nil
	}
}

func resyncToHeader(readFull readFullFunc) error {
	buf := make([]byte, 1)
	matched := false
	for {
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame header: %w", err)
		}
		switch {
		case matched && buf[0] == frameHeader[1]:
			return nil
		case buf[0] == frameHeader[0]:
			matched = true
		default:
			matched = false
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
