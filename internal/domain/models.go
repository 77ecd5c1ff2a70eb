package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrUnknownCategory = errors.New("unknown category")

// Category is the kind of emergency a distress message reports.
type Category string

const (
	CategoryMedical Category = "MEDICAL"
	CategoryRescue  Category = "RESCUE"
	CategoryFood    Category = "FOOD"
	CategoryTrapped Category = "TRAPPED"
	CategoryGeneral Category = "GENERAL"
	CategoryOther   Category = "OTHER"
)

var categoryCodes = map[Category]byte{
	CategoryMedical: 1,
	CategoryRescue:  2,
	CategoryFood:    3,
	CategoryTrapped: 4,
	CategoryGeneral: 5,
	CategoryOther:   6,
}

// Categories returns all known categories in wire-code order.
func Categories() []Category {
	return []Category{CategoryMedical, CategoryRescue, CategoryFood, CategoryTrapped, CategoryGeneral, CategoryOther}
}

// ParseCategory accepts a category name in any case.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := categoryCodes[c]; !ok {
		return "", ErrUnknownCategory
	}

	return c, nil
}

// Code returns the one-byte wire code. Only valid categories can be encoded.
func (c Category) Code() (byte, error) {
	code, ok := categoryCodes[c]
	if !ok {
		return 0, ErrUnknownCategory
	}

	return code, nil
}

// CategoryFromCode is total: unknown codes map to OTHER.
func CategoryFromCode(code byte) Category {
	for c, v := range categoryCodes {
		if v == code {
			return c
		}
	}

	return CategoryOther
}

type MessageStatus string

const (
	MessageStatusPending      MessageStatus = "PENDING"
	MessageStatusDelivered    MessageStatus = "DELIVERED"
	MessageStatusRelayed      MessageStatus = "RELAYED"
	MessageStatusAcknowledged MessageStatus = "ACKNOWLEDGED"
)

// GatewayForwardStatus is the literal sent to the gateway for every queued body.
const GatewayForwardStatus = "SENT_TO_NODE"

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusDelivered, MessageStatusRelayed, MessageStatusAcknowledged:
		return true
	default:
		return false
	}
}

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// DistressMessage is the record kept for every authored or received message.
type DistressMessage struct {
	ID        string
	Category  Category
	Text      string
	CreatedAt time.Time
	Status    MessageStatus
	Location  *Coordinates
}

// ConnectivityClass is derived from the reachability probe and radio state.
type ConnectivityClass string

const (
	ConnectivityOffline    ConnectivityClass = "OFFLINE"
	ConnectivityMeshActive ConnectivityClass = "MESH_ACTIVE"
	ConnectivityInternet   ConnectivityClass = "INTERNET"
)

func ClassifyConnectivity(internetReachable, radioEnabled bool) ConnectivityClass {
	switch {
	case internetReachable:
		return ConnectivityInternet
	case radioEnabled:
		return ConnectivityMeshActive
	default:
		return ConnectivityOffline
	}
}

// ReceivedBroadcast is a decoded mesh payload together with its raw bytes.
type ReceivedBroadcast struct {
	Raw         []byte
	Fingerprint uint64
	SenderID    string
	Category    Category
	Text        string
	Location    Coordinates
	ReceivedAt  time.Time
}
