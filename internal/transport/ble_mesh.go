package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/bluetoothutil"
	"tinygo.org/x/bluetooth"
)

const defaultAdvertiseInterval = 100 * time.Millisecond

// Mesh payloads are a 12-byte header followed by at most 14 bytes of text.
const (
	minMeshPayloadLen = 12
	maxMeshPayloadLen = 26
)

// A manufacturer AD structure costs a length byte, a type byte and the
// 16-bit company id on top of the payload. Legacy advertising data is capped
// at 31 bytes.
const (
	manufacturerADOverhead  = 4
	legacyAdvertisingMaxLen = 31
)

func meshAdvertisingDataLen(payloadLen int) int {
	return manufacturerADOverhead + payloadLen
}

// meshAdvertisement is the part of *bluetooth.Advertisement the broadcaster
// drives.
type meshAdvertisement interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// BLEBroadcaster carries mesh payloads in manufacturer-specific advertising
// data and picks them up from other devices' advertisements.
//
// The advertisement holds the manufacturer element only. Adding the 128-bit
// mesh service UUID would push it past the legacy advertising limit.
type BLEBroadcaster struct {
	adapterID string

	mu          sync.Mutex
	adapter     *bluetooth.Adapter
	adv         meshAdvertisement
	configured  []byte
	advertising bool

	newAdvertisement func() (meshAdvertisement, error)
}

func NewBLEBroadcaster(adapterID string) *BLEBroadcaster {
	b := &BLEBroadcaster{adapterID: strings.TrimSpace(adapterID)}
	b.newAdvertisement = b.defaultAdvertisement

	return b
}

func (b *BLEBroadcaster) Name() string {
	return "bluetooth"
}

func (b *BLEBroadcaster) StatusTarget() string {
	return b.adapterID
}

// Advertise replaces the current advertisement with payload. Re-advertising
// the configured payload reuses the registered advertisement.
func (b *BLEBroadcaster) Advertise(ctx context.Context, payload []byte) error {
	logger := linkLogger("bluetooth-mesh", "adapter", b.adapterID)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payload) > maxMeshPayloadLen {
		return fmt.Errorf("mesh payload is %d bytes, at most %d fit an advertisement", len(payload), maxMeshPayloadLen)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.adv == nil {
		adv, err := b.newAdvertisement()
		if err != nil {
			return err
		}
		b.adv = adv
	}
	same := b.configured != nil && bytes.Equal(b.configured, payload)
	if same && b.advertising {
		logger.Debug("payload already advertised", "len", len(payload))
		return nil
	}
	if b.advertising {
		if err := b.adv.Stop(); err != nil {
			logger.Debug("stop previous advertisement failed", "error", err)
		}
		b.advertising = false
	}

	if !same {
		data := append([]byte(nil), payload...)
		if err := b.adv.Configure(meshAdvertisementOptions(data)); err != nil {
			b.configured = nil
			logger.Warn("configure advertisement failed", "error", err)
			return fmt.Errorf("configure advertisement: %w", err)
		}
		b.configured = data
	}
	if err := b.adv.Start(); err != nil {
		logger.Warn("start advertisement failed", "error", err)
		return fmt.Errorf("start advertisement: %w", err)
	}
	b.advertising = true
	logger.Debug("advertising payload", "len", len(payload), "reused", same)

	return nil
}

func meshAdvertisementOptions(payload []byte) bluetooth.AdvertisementOptions {
	return bluetooth.AdvertisementOptions{
		ManufacturerData: []bluetooth.ManufacturerDataElement{{
			CompanyID: bluetoothutil.MeshCompanyID,
			Data:      payload,
		}},
		Interval: bluetooth.NewDuration(defaultAdvertiseInterval),
	}
}

func (b *BLEBroadcaster) StopAdvertising() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.adv == nil || !b.advertising {
		return nil
	}
	b.advertising = false
	if err := b.adv.Stop(); err != nil {
		return fmt.Errorf("stop advertisement: %w", err)
	}

	return nil
}

// Scan listens through the adapter's shared scan, so gateway discovery on
// the same controller does not interrupt it.
func (b *BLEBroadcaster) Scan(ctx context.Context, handler func(payload []byte)) error {
	logger := linkLogger("bluetooth-mesh", "adapter", b.adapterID)

	hub, err := bluetoothutil.SharedScanHub(b.adapterID)
	if err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	sub := hub.Subscribe(func(result bluetooth.ScanResult) {
		for _, payload := range meshPayloads(result.ManufacturerData()) {
			handler(payload)
		}
	})
	defer sub.Close()

	logger.Info("mesh scan started")
	select {
	case <-ctx.Done():
		logger.Info("mesh scan stopped")
		return ctx.Err()
	case <-sub.Done():
	}

	err = sub.Err()
	logger.Warn("mesh scan failed", "error", err)

	return fmt.Errorf("scan mesh advertisements: %w", err)
}

// meshPayloads picks the manufacturer elements that can hold a mesh payload.
// Other users of the shared test company id rarely match the size window.
func meshPayloads(elements []bluetooth.ManufacturerDataElement) [][]byte {
	var out [][]byte
	for _, md := range elements {
		if md.CompanyID != bluetoothutil.MeshCompanyID {
			continue
		}
		if len(md.Data) < minMeshPayloadLen || len(md.Data) > maxMeshPayloadLen {
			continue
		}
		out = append(out, append([]byte(nil), md.Data...))
	}

	return out
}

func (b *BLEBroadcaster) defaultAdvertisement() (meshAdvertisement, error) {
	if b.adapter == nil {
		adapter, err := bluetoothutil.EnabledAdapter(b.adapterID)
		if err != nil {
			return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
		}
		b.adapter = adapter
	}

	return b.adapter.DefaultAdvertisement(), nil
}
