package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/skobkin/resqrelay/internal/gateway"
)

// streamConn runs the gateway session over a byte stream using 0x94C3
// length-prefixed frames in both directions. Every inbound frame is a
// notification.
type streamConn struct {
	logger *slog.Logger
	rw     io.ReadWriteCloser

	writeMu   sync.Mutex
	subOnce   sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

var _ gateway.Conn = (*streamConn)(nil)

func newStreamConn(logger *slog.Logger, rw io.ReadWriteCloser) *streamConn {
	return &streamConn{
		logger: logger,
		rw:     rw,
		closed: make(chan struct{}),
	}
}

// NegotiateMTU is bounded only by the frame length field.
func (c *streamConn) NegotiateMTU(_ context.Context, mtu int) (int, error) {
	if mtu > math.MaxUint16 {
		return math.MaxUint16, nil
	}

	return mtu, nil
}

func (c *streamConn) DiscoverCapabilities(_ context.Context) error {
	select {
	case <-c.closed:
		return fmt.Errorf("stream closed: %w", gateway.ErrCapabilityMissing)
	default:
		return nil
	}
}

func (c *streamConn) Subscribe(ctx context.Context, onNotify func([]byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.subOnce.Do(func() {
		go c.readLoop(onNotify)
	})

	return nil
}

func (c *streamConn) readLoop(onNotify func([]byte)) {
	defer c.markClosed()
	for {
		payload, err := readFrame(c.readFull)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debug("gateway stream read ended", "error", err)
			}
			return
		}
		c.logger.Debug("gateway frame received", "len", len(payload))
		onNotify(payload)
	}
}

// readFull tolerates zero-byte reads, which serial ports return on timeout.
func (c *streamConn) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		select {
		case <-c.closed:
			return io.ErrClosedPipe
		default:
		}
		n, err := c.rw.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}

	return nil
}

func (c *streamConn) Write(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return gateway.ErrLinkLost
	default:
	}

	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFull(ctx, c.rw, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	c.logger.Debug("gateway frame written", "payload_len", len(payload), "frame_len", len(frame))

	return nil
}

func (c *streamConn) Disconnected() <-chan struct{} {
	return c.closed
}

func (c *streamConn) Close() error {
	c.markClosed()
	if err := c.rw.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("close gateway stream: %w", err)
	}

	return nil
}

func (c *streamConn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}
	return nil
}
