package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/bluetoothutil"
	"github.com/skobkin/resqrelay/internal/gateway"
	"tinygo.org/x/bluetooth"
)

const (
	defaultBluetoothSubscribeWait = 8 * time.Second
	bluetoothSettleDelay          = 300 * time.Millisecond
)

// BLEGatewayLink reaches a gateway that exposes the gateway GATT service.
type BLEGatewayLink struct {
	adapterID string

	mu      sync.Mutex
	adapter *bluetooth.Adapter
	found   map[string]bluetooth.Address
	active  *bleGatewayConn
}

var _ gateway.Link = (*BLEGatewayLink)(nil)

func NewBLEGatewayLink(adapterID string) *BLEGatewayLink {
	return &BLEGatewayLink{
		adapterID: strings.TrimSpace(adapterID),
		found:     make(map[string]bluetooth.Address),
	}
}

func (l *BLEGatewayLink) Name() string {
	return "bluetooth"
}

func (l *BLEGatewayLink) StatusTarget() string {
	return l.adapterID
}

// Discover waits on the adapter's shared scan until the first device
// advertising the gateway service shows up or ctx expires.
func (l *BLEGatewayLink) Discover(ctx context.Context) (gateway.Peer, error) {
	logger := linkLogger("bluetooth-gateway", "adapter", l.adapterID)
	if _, err := l.enabledAdapter(); err != nil {
		return gateway.Peer{}, errors.Join(gateway.ErrDiscoveryAborted, err)
	}
	hub, err := bluetoothutil.SharedScanHub(l.adapterID)
	if err != nil {
		return gateway.Peer{}, errors.Join(gateway.ErrDiscoveryAborted, err)
	}

	foundCh := make(chan gateway.Peer, 1)
	sub := hub.Subscribe(func(result bluetooth.ScanResult) {
		if !result.HasServiceUUID(bluetoothutil.GatewayServiceUUID()) {
			return
		}
		peer := gateway.Peer{Address: result.Address.String(), Name: result.LocalName()}
		l.mu.Lock()
		l.found[peer.Address] = result.Address
		l.mu.Unlock()
		select {
		case foundCh <- peer:
		default:
		}
	})
	defer sub.Close()

	logger.Debug("scanning for gateway")
	peer, err := awaitGatewayPeer(ctx, foundCh, sub.Done(), sub.Err)
	if err != nil {
		return gateway.Peer{}, err
	}
	logger.Info("gateway discovered", "address", peer.Address, "name", peer.Name)

	return peer, nil
}

// awaitGatewayPeer prefers a match over a scan end that raced it.
func awaitGatewayPeer(
	ctx context.Context,
	found <-chan gateway.Peer,
	scanDone <-chan struct{},
	scanErr func() error,
) (gateway.Peer, error) {
	select {
	case peer := <-found:
		return peer, nil
	case <-ctx.Done():
		return gateway.Peer{}, ctx.Err()
	case <-scanDone:
		select {
		case peer := <-found:
			return peer, nil
		default:
		}
		return gateway.Peer{}, classifyScanError(scanErr())
	}
}

func (l *BLEGatewayLink) Connect(ctx context.Context, peer gateway.Peer) (gateway.Conn, error) {
	logger := linkLogger("bluetooth-gateway", "adapter", l.adapterID, "address", peer.Address)
	adapter, err := l.enabledAdapter()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	addr, ok := l.found[peer.Address]
	l.mu.Unlock()
	if !ok {
		addr, err = parseBluetoothAddress(peer.Address)
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("connecting gateway")
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		logger.Warn("connect gateway failed", "error", err)
		return nil, fmt.Errorf("connect bluetooth device %q: %w", peer.Address, err)
	}

	conn := &bleGatewayConn{
		address: peer.Address,
		device:  device,
		closed:  make(chan struct{}),
	}
	l.mu.Lock()
	l.active = conn
	l.mu.Unlock()
	logger.Info("gateway connected")

	return conn, nil
}

func (l *BLEGatewayLink) enabledAdapter() (*bluetooth.Adapter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.adapter != nil {
		return l.adapter, nil
	}

	adapter, err := bluetoothutil.EnabledAdapter(l.adapterID)
	if err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	adapter.SetConnectHandler(l.onConnectionChange)
	l.adapter = adapter

	return adapter, nil
}

func (l *BLEGatewayLink) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	l.mu.Lock()
	active := l.active
	if active != nil && device.Address.String() == active.address {
		l.active = nil
	} else {
		active = nil
	}
	l.mu.Unlock()

	if active != nil {
		linkLogger("bluetooth-gateway", "address", active.address).Info("gateway disconnected")
		active.markClosed()
	}
}

func classifyScanError(err error) error {
	if err == nil || errors.Is(err, bluetoothutil.ErrScanEnded) {
		return fmt.Errorf("scan ended: %w", gateway.ErrPeerNotFound)
	}
	if bluetoothutil.IsAdapterUnavailableError(err) {
		return errors.Join(gateway.ErrDiscoveryAborted, err)
	}

	return fmt.Errorf("scan for gateway: %w", err)
}

type bleGatewayConn struct {
	address string
	device  bluetooth.Device

	charsOnce sync.Once
	charsErr  error
	write     bluetooth.DeviceCharacteristic
	notify    bluetooth.DeviceCharacteristic

	closed    chan struct{}
	closeOnce sync.Once
	subMu     sync.Mutex
	subbed    bool
}

// NegotiateMTU reports the unit BlueZ settled on; the exchange itself is run
// by the host stack after connect.
func (c *bleGatewayConn) NegotiateMTU(ctx context.Context, mtu int) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(bluetoothSettleDelay):
	}
	if err := c.resolveCharacteristics(); err != nil {
		return 0, err
	}
	got, err := c.write.GetMTU()
	if err != nil {
		return 0, fmt.Errorf("read mtu: %w", err)
	}
	if int(got) < mtu {
		return int(got), nil
	}

	return mtu, nil
}

func (c *bleGatewayConn) DiscoverCapabilities(_ context.Context) error {
	return c.resolveCharacteristics()
}

func (c *bleGatewayConn) resolveCharacteristics() error {
	c.charsOnce.Do(func() {
		services, err := c.device.DiscoverServices([]bluetooth.UUID{bluetoothutil.GatewayServiceUUID()})
		if err != nil || len(services) == 0 {
			c.charsErr = errors.Join(gateway.ErrCapabilityMissing, err)
			return
		}
		chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
			bluetoothutil.GatewayWriteUUID(),
			bluetoothutil.GatewayNotifyUUID(),
		})
		if err != nil || len(chars) != 2 {
			c.charsErr = errors.Join(fmt.Errorf("%w: got %d characteristics", gateway.ErrCapabilityMissing, len(chars)), err)
			return
		}
		c.write = chars[0]
		c.notify = chars[1]
	})

	return c.charsErr
}

func (c *bleGatewayConn) Subscribe(ctx context.Context, onNotify func([]byte)) error {
	if err := c.resolveCharacteristics(); err != nil {
		return err
	}
	if err := enableBluetoothNotificationsWithTimeout(ctx, c.device, c.notify, onNotify, defaultBluetoothSubscribeWait); err != nil {
		return fmt.Errorf("enable gateway notifications: %w", err)
	}
	c.subMu.Lock()
	c.subbed = true
	c.subMu.Unlock()

	return nil
}

func (c *bleGatewayConn) Write(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return gateway.ErrLinkLost
	default:
	}

	written, err := c.write.Write(payload)
	if err != nil {
		return fmt.Errorf("write gateway characteristic: %w", err)
	}
	if written != len(payload) {
		return fmt.Errorf("short write to gateway: wrote %d of %d", written, len(payload))
	}

	return nil
}

func (c *bleGatewayConn) Disconnected() <-chan struct{} {
	return c.closed
}

func (c *bleGatewayConn) Close() error {
	logger := linkLogger("bluetooth-gateway", "address", c.address)
	c.markClosed()

	var closeErr error
	c.subMu.Lock()
	subbed := c.subbed
	c.subbed = false
	c.subMu.Unlock()
	if subbed {
		if err := c.notify.EnableNotifications(nil); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("disable gateway notifications: %w", err))
		}
	}
	if err := c.device.Disconnect(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("disconnect gateway: %w", err))
	}
	if closeErr != nil {
		logger.Debug("close gateway connection", "error", closeErr)
		return closeErr
	}
	logger.Debug("gateway connection closed")

	return nil
}

func (c *bleGatewayConn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func parseBluetoothAddress(raw string) (bluetooth.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return bluetooth.Address{}, errors.New("bluetooth address is empty")
	}

	mac, err := bluetooth.ParseMAC(strings.ToUpper(trimmed))
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid bluetooth address %q: %w", trimmed, err)
	}

	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func enableBluetoothNotificationsWithTimeout(
	ctx context.Context,
	device bluetooth.Device,
	char bluetooth.DeviceCharacteristic,
	callback func([]byte),
	wait time.Duration,
) error {
	if wait <= 0 {
		wait = defaultBluetoothSubscribeWait
	}

	done := make(chan error, 1)
	go func() {
		done <- char.EnableNotifications(callback)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = device.Disconnect()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	case <-timer.C:
		_ = device.Disconnect()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("timed out after %s (abort returned: %w)", wait, err)
			}
		case <-time.After(2 * time.Second):
		}
		return fmt.Errorf("timed out after %s", wait)
	}
}
