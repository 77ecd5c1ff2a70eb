package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultUDPPort          = 47474
	defaultUDPRepeat        = 2 * time.Second
	udpReadBuffer           = 512
	udpReadDeadlineInterval = 500 * time.Millisecond
)

// UDPBroadcaster sends mesh payloads as LAN broadcast datagrams. The current
// payload is repeated until replaced, like a radio advertisement.
type UDPBroadcaster struct {
	broadcastAddr string
	port          int
	repeat        time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewUDPBroadcaster(broadcastAddr string, port int, repeat time.Duration) *UDPBroadcaster {
	if broadcastAddr == "" {
		broadcastAddr = "255.255.255.255"
	}
	if port == 0 {
		port = DefaultUDPPort
	}
	if repeat <= 0 {
		repeat = defaultUDPRepeat
	}

	return &UDPBroadcaster{broadcastAddr: broadcastAddr, port: port, repeat: repeat}
}

func (b *UDPBroadcaster) Name() string {
	return "udp"
}

func (b *UDPBroadcaster) StatusTarget() string {
	return net.JoinHostPort(b.broadcastAddr, strconv.Itoa(b.port))
}

func (b *UDPBroadcaster) Advertise(ctx context.Context, payload []byte) error {
	logger := linkLogger("udp", "target", b.StatusTarget())
	if err := b.StopAdvertising(); err != nil {
		logger.Debug("stop previous broadcast failed", "error", err)
	}

	conn, err := net.Dial("udp", b.StatusTarget())
	if err != nil {
		return fmt.Errorf("dial udp broadcast: %w", err)
	}
	data := append([]byte(nil), payload...)
	if _, err := conn.Write(data); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write udp broadcast: %w", err)
	}
	logger.Debug("broadcast payload", "len", len(data))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	b.mu.Lock()
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer func() { _ = conn.Close() }()
		ticker := time.NewTicker(b.repeat)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := conn.Write(data); err != nil {
					logger.Debug("repeat broadcast failed", "error", err)
				}
			}
		}
	}()

	return nil
}

func (b *UDPBroadcaster) StopAdvertising() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	return nil
}

func (b *UDPBroadcaster) Scan(ctx context.Context, handler func(payload []byte)) error {
	logger := linkLogger("udp", "port", b.port)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: b.port})
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer func() { _ = conn.Close() }()
	logger.Info("mesh scan started")

	buf := make([]byte, udpReadBuffer)
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("mesh scan stopped")
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(udpReadDeadlineInterval))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("read udp: %w", err)
		}
		if n == 0 {
			continue
		}
		handler(append([]byte(nil), buf[:n]...))
	}
}
