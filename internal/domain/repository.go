package domain

import (
	"context"
	"time"
)

// Settings keys persisted in the key-value store.
const (
	SettingRadioEnabled     = "radio_enabled"
	SettingSecondaryEnabled = "secondary_transport_enabled"
	SettingDeviceID         = "device_id"
)

// MessageStore is the durable record of every message and its status.
type MessageStore interface {
	// Save upserts by id and reports whether a new record was created. An
	// existing record never has its status moved backwards.
	Save(ctx context.Context, m DistressMessage) (bool, error)
	UpdateStatus(ctx context.Context, id string, status MessageStatus) error
	ListByStatus(ctx context.Context, status MessageStatus) ([]DistressMessage, error)
	// ListAll is ordered by creation time, newest first.
	ListAll(ctx context.Context) ([]DistressMessage, error)
	// Watch emits a fresh ListAll snapshot after every write until ctx ends.
	Watch(ctx context.Context) <-chan []DistressMessage
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsStore persists user flags and the device identity.
type SettingsStore interface {
	Bool(ctx context.Context, key string, fallback bool) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
	// DeviceID reads the identity or generates and persists it on first use.
	DeviceID(ctx context.Context) (DeviceID, error)
}

// MessageStatusUpdate is published when a message's delivery status changes.
type MessageStatusUpdate struct {
	MessageID string
	Status    MessageStatus
	At        time.Time
}
