package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/skobkin/resqrelay/internal/bluetoothutil"
	"github.com/skobkin/resqrelay/internal/gateway"
)

func TestParseBluetoothAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid upper", input: "AA:BB:CC:DD:EE:FF"},
		{name: "valid lower", input: "aa:bb:cc:dd:ee:ff"},
		{name: "empty", input: "   ", wantErr: true},
		{name: "invalid", input: "not-a-mac", wantErr: true},
	}

	for _, tc := range tests {
		_, err := parseBluetoothAddress(tc.input)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestClassifyScanError(t *testing.T) {
	if err := classifyScanError(nil); !errors.Is(err, gateway.ErrPeerNotFound) {
		t.Fatalf("clean scan end should be peer-not-found, got %v", err)
	}
	if err := classifyScanError(bluetoothutil.ErrScanEnded); !errors.Is(err, gateway.ErrPeerNotFound) {
		t.Fatalf("scan ended under us should be peer-not-found, got %v", err)
	}
	if err := classifyScanError(dbus.NewError("org.bluez.Error.NotReady", nil)); !errors.Is(err, gateway.ErrDiscoveryAborted) {
		t.Fatalf("adapter not ready should abort discovery, got %v", err)
	}
	err := classifyScanError(testErr("le scan failed"))
	if errors.Is(err, gateway.ErrDiscoveryAborted) || err == nil {
		t.Fatalf("generic scan failure should be retryable, got %v", err)
	}
}

func TestBLEGatewayConnWriteAfterDisconnect(t *testing.T) {
	conn := &bleGatewayConn{closed: make(chan struct{})}
	conn.markClosed()
	conn.markClosed()

	select {
	case <-conn.Disconnected():
	default:
		t.Fatalf("expected disconnected channel to be closed")
	}
	if err := conn.Write(context.Background(), []byte("x")); !errors.Is(err, gateway.ErrLinkLost) {
		t.Fatalf("expected ErrLinkLost, got %v", err)
	}
}

type testErr string

func (e testErr) Error() string {
	return string(e)
}

func TestAwaitGatewayPeerPrefersMatchOverScanEnd(t *testing.T) {
	for i := 0; i < 200; i++ {
		found := make(chan gateway.Peer, 1)
		found <- gateway.Peer{Address: "AA:BB:CC:DD:EE:FF"}
		done := make(chan struct{})
		close(done)

		peer, err := awaitGatewayPeer(context.Background(), found, done, func() error { return bluetoothutil.ErrScanEnded })
		if err != nil {
			t.Fatalf("iteration %d: match lost to scan end: %v", i, err)
		}
		if peer.Address != "AA:BB:CC:DD:EE:FF" {
			t.Fatalf("unexpected peer %+v", peer)
		}
	}
}

func TestAwaitGatewayPeerScanEnd(t *testing.T) {
	done := make(chan struct{})
	close(done)

	_, err := awaitGatewayPeer(context.Background(), make(chan gateway.Peer), done, func() error {
		return dbus.NewError("org.bluez.Error.NotReady", nil)
	})
	if !errors.Is(err, gateway.ErrDiscoveryAborted) {
		t.Fatalf("expected discovery abort, got %v", err)
	}
}

func TestAwaitGatewayPeerContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := awaitGatewayPeer(ctx, make(chan gateway.Peer), make(chan struct{}), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
