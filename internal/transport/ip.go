package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/resqrelay/internal/gateway"
)

const (
	defaultGatewayTCPPort = 4403
	defaultDialTimeout    = 6 * time.Second
)

// TCPGatewayLink reaches a gateway bridged onto the local network.
type TCPGatewayLink struct {
	host string
	port int
}

var _ gateway.Link = (*TCPGatewayLink)(nil)

func NewTCPGatewayLink(host string, port int) *TCPGatewayLink {
	if port == 0 {
		port = defaultGatewayTCPPort
	}

	return &TCPGatewayLink{host: strings.TrimSpace(host), port: port}
}

func (l *TCPGatewayLink) Name() string {
	return "tcp"
}

func (l *TCPGatewayLink) StatusTarget() string {
	if l.host == "" {
		return ""
	}

	return net.JoinHostPort(l.host, strconv.Itoa(l.port))
}

func (l *TCPGatewayLink) Discover(ctx context.Context) (gateway.Peer, error) {
	if l.host == "" {
		return gateway.Peer{}, errors.Join(gateway.ErrDiscoveryAborted, errors.New("gateway host is empty"))
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, l.host)
	if err != nil {
		return gateway.Peer{}, fmt.Errorf("resolve gateway host: %w", err)
	}
	if len(addrs) == 0 {
		return gateway.Peer{}, fmt.Errorf("resolve gateway host %q: %w", l.host, gateway.ErrPeerNotFound)
	}

	return gateway.Peer{Address: net.JoinHostPort(addrs[0], strconv.Itoa(l.port)), Name: l.host}, nil
}

func (l *TCPGatewayLink) Connect(ctx context.Context, peer gateway.Peer) (gateway.Conn, error) {
	logger := linkLogger("tcp", "target", peer.Address)
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", peer.Address)
	if err != nil {
		logger.Warn("connect failed", "error", err)
		return nil, fmt.Errorf("dial tcp: %w", err)
	}
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return newStreamConn(logger, conn), nil
}
