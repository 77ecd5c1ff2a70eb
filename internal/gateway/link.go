package gateway

import (
	"context"
	"errors"
)

var (
	// ErrDiscoveryAborted means discovery could not run at all (adapter off,
	// radio error). The client does not schedule a retry for it.
	ErrDiscoveryAborted = errors.New("gateway discovery aborted")
	// ErrPeerNotFound means discovery ran but no gateway answered in time.
	ErrPeerNotFound      = errors.New("gateway peer not found")
	ErrCapabilityMissing = errors.New("gateway capability missing")
	ErrAckTimeout        = errors.New("gateway ack timeout")
	ErrLinkLost          = errors.New("gateway link lost")
)

// Peer is a discovered gateway device.
type Peer struct {
	Address string
	Name    string
}

// Link finds and connects to a gateway over one transport.
type Link interface {
	Name() string
	Discover(ctx context.Context) (Peer, error)
	Connect(ctx context.Context, peer Peer) (Conn, error)
}

// Conn is an open single-client session with a gateway.
type Conn interface {
	// NegotiateMTU is best effort and returns the unit actually in effect.
	NegotiateMTU(ctx context.Context, mtu int) (int, error)
	// DiscoverCapabilities resolves the write and notify endpoints and fails
	// with ErrCapabilityMissing when either is absent.
	DiscoverCapabilities(ctx context.Context) error
	// Subscribe returns only after notifications are confirmed enabled.
	Subscribe(ctx context.Context, onNotify func([]byte)) error
	Write(ctx context.Context, payload []byte) error
	Disconnected() <-chan struct{}
	Close() error
}
