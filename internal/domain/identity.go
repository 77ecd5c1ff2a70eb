package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// MaxDeviceID is the largest identifier that fits the 3-byte wire field.
const MaxDeviceID DeviceID = 0xFFFFFF

// DeviceID identifies this install as a mesh sender.
type DeviceID uint32

func (id DeviceID) Valid() bool {
	return id <= MaxDeviceID
}

// Hex formats the id as the 6 upper-case hex characters used in message ids.
func (id DeviceID) Hex() string {
	return fmt.Sprintf("%06X", uint32(id)&uint32(MaxDeviceID))
}

func ParseDeviceID(raw string) (DeviceID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse device id %q: %w", raw, err)
	}
	id := DeviceID(v)
	if !id.Valid() {
		return 0, fmt.Errorf("device id %q exceeds 24 bits", raw)
	}

	return id, nil
}

// ContentHash fingerprints message text for the composite message id.
func ContentHash(text string) string {
	return fmt.Sprintf("%08x", uint32(xxhash.Sum64String(text)))
}

// MessageID builds "<sender hex>_<CATEGORY>_<content hash>". Rebroadcasts of the
// same text from the same sender collapse to one id.
func MessageID(senderHex string, category Category, text string) string {
	return strings.ToUpper(strings.TrimSpace(senderHex)) + "_" + string(category) + "_" + ContentHash(text)
}

// NewDeviceID takes the first 24 bits of a random UUID.
func NewDeviceID() DeviceID {
	u := uuid.New()
	return DeviceID(uint32(u[0])<<16 | uint32(u[1])<<8 | uint32(u[2]))
}
