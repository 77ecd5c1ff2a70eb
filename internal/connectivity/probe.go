package connectivity

import (
	"context"
	"net"
	"time"
)

const (
	DefaultProbeAddress = "8.8.8.8:53"
	DefaultProbeTimeout = 1500 * time.Millisecond
)

// Prober answers whether the internet is actually reachable, not merely
// whether an interface is up.
type Prober interface {
	Probe(ctx context.Context) bool
}

// TCPProber opens and immediately closes a TCP connection to a well-known
// address.
type TCPProber struct {
	Address string
	Timeout time.Duration
}

func NewTCPProber(address string, timeout time.Duration) *TCPProber {
	if address == "" {
		address = DefaultProbeAddress
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &TCPProber{Address: address, Timeout: timeout}
}

func (p *TCPProber) Probe(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()

	return true
}
