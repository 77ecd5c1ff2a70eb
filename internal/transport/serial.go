package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skobkin/resqrelay/internal/gateway"
	"go.bug.st/serial"
)

const (
	defaultSerialReadTimeout  = 300 * time.Millisecond
	defaultSerialPollInterval = 500 * time.Millisecond
)

// SerialGatewayLink talks to a gateway node wired over USB serial.
type SerialGatewayLink struct {
	portName string
	baudRate int

	listPorts func() ([]string, error)
	open      func(name string, mode *serial.Mode) (serial.Port, error)
}

var _ gateway.Link = (*SerialGatewayLink)(nil)

func NewSerialGatewayLink(portName string, baudRate int) *SerialGatewayLink {
	return &SerialGatewayLink{
		portName:  strings.TrimSpace(portName),
		baudRate:  baudRate,
		listPorts: serial.GetPortsList,
		open:      serial.Open,
	}
}

func (l *SerialGatewayLink) Name() string {
	return "serial"
}

func (l *SerialGatewayLink) StatusTarget() string {
	return l.portName
}

// Discover waits for the configured port to be present.
func (l *SerialGatewayLink) Discover(ctx context.Context) (gateway.Peer, error) {
	logger := linkLogger("serial", "port", l.portName)
	if l.portName == "" {
		return gateway.Peer{}, errors.Join(gateway.ErrDiscoveryAborted, errors.New("serial port is empty"))
	}
	if l.baudRate <= 0 {
		return gateway.Peer{}, errors.Join(gateway.ErrDiscoveryAborted, fmt.Errorf("invalid serial baud rate: %d", l.baudRate))
	}

	ticker := time.NewTicker(defaultSerialPollInterval)
	defer ticker.Stop()
	for {
		ports, err := l.listPorts()
		if err != nil {
			return gateway.Peer{}, errors.Join(gateway.ErrDiscoveryAborted, fmt.Errorf("list serial ports: %w", err))
		}
		for _, p := range ports {
			if p == l.portName {
				logger.Debug("gateway port present")
				return gateway.Peer{Address: p, Name: p}, nil
			}
		}

		select {
		case <-ctx.Done():
			return gateway.Peer{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *SerialGatewayLink) Connect(ctx context.Context, peer gateway.Peer) (gateway.Conn, error) {
	logger := linkLogger("serial", "port", peer.Address)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := l.open(peer.Address, &serial.Mode{BaudRate: l.baudRate})
	if err != nil {
		logger.Warn("open serial port failed", "error", err)
		return nil, fmt.Errorf("open serial port %q: %w", peer.Address, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	logger.Info("gateway port opened", "baud", l.baudRate)

	return newStreamConn(logger, port), nil
}
