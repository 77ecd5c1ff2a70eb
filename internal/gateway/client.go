package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/bus"
	"github.com/skobkin/resqrelay/internal/connectors"
	"github.com/skobkin/resqrelay/internal/domain"
)

const (
	DefaultRetryBackoff     = time.Second
	DefaultAckTimeout       = 20 * time.Second
	DefaultDiscoveryTimeout = 15 * time.Second
	DefaultMTU              = 512
)

// QueuedMessage is a serialized body waiting for a gateway acknowledgement.
type QueuedMessage struct {
	MessageID string
	Body      []byte
}

type Config struct {
	RetryBackoff     time.Duration
	AckTimeout       time.Duration
	DiscoveryTimeout time.Duration
	MTU              int
}

func (c Config) withDefaults() Config {
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}

	return c
}

// Client delivers queued bodies to one gateway, one at a time, in FIFO order.
// Enqueue is safe from any goroutine; Run drains the queue from a single one.
type Client struct {
	logger *slog.Logger
	link   Link
	bus    bus.MessageBus
	cfg    Config

	mu       sync.Mutex
	queue    []QueuedMessage
	state    connectors.GatewayState
	inFlight string
	lastErr  string

	wake chan struct{}
}

func NewClient(logger *slog.Logger, b bus.MessageBus, link Link, cfg Config) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "gateway")
	}

	return &Client{
		logger: logger,
		link:   link,
		bus:    b,
		cfg:    cfg.withDefaults(),
		state:  connectors.GatewayStateDisconnected,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue appends a message unless one with the same id is already queued.
func (c *Client) Enqueue(m QueuedMessage) {
	c.mu.Lock()
	for _, q := range c.queue {
		if q.MessageID == m.MessageID {
			c.mu.Unlock()
			c.logger.Debug("message already queued", "id", m.MessageID)
			return
		}
	}
	c.queue = append(c.queue, m)
	size := len(c.queue)
	c.mu.Unlock()

	c.logger.Debug("message queued", "id", m.MessageID, "queue_len", size)
	c.Kick()
}

// Remove drops a queued message that was settled by other means.
func (c *Client) Remove(id string) bool {
	removed := c.removeByID(id)
	if removed {
		c.Kick()
	}

	return removed
}

// Kick wakes an idle client, for example after the radio comes back.
func (c *Client) Kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// Pending returns a copy of the queue, head first.
func (c *Client) Pending() []QueuedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]QueuedMessage, len(c.queue))
	copy(out, c.queue)

	return out
}

func (c *Client) Status() connectors.GatewayStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.statusLocked()
}

// Run drives the link until ctx is done.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			c.setState(connectors.GatewayStateDisconnected, nil)
			return
		}
		if c.QueueLen() == 0 {
			c.setState(connectors.GatewayStateDisconnected, nil)
			if !c.waitWake(ctx) {
				return
			}
			continue
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(connectors.GatewayStateDisconnected, nil)
			return
		}
		c.setState(connectors.GatewayStateDisconnected, err)

		if errors.Is(err, ErrDiscoveryAborted) {
			c.logger.Warn("gateway discovery aborted", "error", err)
			c.drainWake()
			if !c.waitWake(ctx) {
				return
			}
			continue
		}
		if err != nil {
			c.logger.Warn("gateway link failure", "transport", c.link.Name(), "error", err)
		}
		if c.QueueLen() == 0 {
			continue
		}
		c.logger.Debug("queue not empty, retrying", "backoff", c.cfg.RetryBackoff)
		if !c.waitRetry(ctx) {
			return
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	c.setState(connectors.GatewayStateDiscovering, nil)
	discoverCtx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
	peer, err := c.link.Discover(discoverCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("discover gateway: %w", ErrPeerNotFound)
		}
		return fmt.Errorf("discover gateway: %w", err)
	}
	if c.QueueLen() == 0 {
		return nil
	}

	conn, err := c.link.Connect(ctx, peer)
	if err != nil {
		return fmt.Errorf("connect gateway %s: %w", peer.Address, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			c.logger.Debug("gateway close failed", "error", cerr)
		}
	}()
	c.setState(connectors.GatewayStateConnected, nil)

	if mtu, err := conn.NegotiateMTU(ctx, c.cfg.MTU); err != nil {
		c.logger.Debug("mtu negotiation failed, continuing", "error", err)
	} else {
		c.logger.Debug("mtu negotiated", "mtu", mtu)
	}
	if err := conn.DiscoverCapabilities(ctx); err != nil {
		return fmt.Errorf("discover gateway capabilities: %w", err)
	}

	// Only notifications acknowledging the in-flight message are kept, so a
	// burst of unrelated ones cannot crowd out the ack.
	acks := make(chan struct{}, 1)
	onNotify := func(note []byte) {
		id := c.inFlightID()
		if id == "" || !matchAck(note, id) {
			c.logger.Debug("ignoring gateway notification", "note", string(note), "in_flight", id)
			return
		}
		select {
		case acks <- struct{}{}:
		default:
		}
	}
	if err := conn.Subscribe(ctx, onNotify); err != nil {
		return fmt.Errorf("subscribe gateway notifications: %w", err)
	}
	c.setState(connectors.GatewayStateSubscribed, nil)

	head, ok := c.head()
	if !ok {
		return nil
	}
	c.setInFlight(head.MessageID)
	defer c.setInFlight("")
	c.setState(connectors.GatewayStateSending, nil)

	if err := conn.Write(ctx, head.Body); err != nil {
		return fmt.Errorf("write message %s: %w", head.MessageID, err)
	}
	c.logger.Info("message sent to gateway", "id", head.MessageID, "len", len(head.Body))

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-conn.Disconnected():
		return fmt.Errorf("awaiting ack for %s: %w", head.MessageID, ErrLinkLost)
	case <-timer.C:
		return fmt.Errorf("awaiting ack for %s: %w", head.MessageID, ErrAckTimeout)
	case <-acks:
	}

	c.removeByID(head.MessageID)
	c.logger.Info("gateway acknowledged message", "id", head.MessageID)
	if c.bus != nil {
		c.bus.Publish(connectors.TopicMessageStatus, domain.MessageStatusUpdate{
			MessageID: head.MessageID,
			Status:    domain.MessageStatusAcknowledged,
			At:        time.Now(),
		})
	}

	return nil
}

func (c *Client) waitWake(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.wake:
		return true
	}
}

func (c *Client) drainWake() {
	select {
	case <-c.wake:
	default:
	}
}

// waitRetry sleeps for the backoff. A wake that finds the queue empty cancels
// the pending retry.
func (c *Client) waitRetry(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.RetryBackoff)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-c.wake:
			if c.QueueLen() == 0 {
				return true
			}
		}
	}
}

func (c *Client) head() (QueuedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return QueuedMessage{}, false
	}

	return c.queue[0], true
}

func (c *Client) removeByID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.queue {
		if q.MessageID == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}

	return false
}

func (c *Client) inFlightID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inFlight
}

func (c *Client) setInFlight(id string) {
	c.mu.Lock()
	c.inFlight = id
	c.mu.Unlock()
}

func (c *Client) setState(state connectors.GatewayState, err error) {
	c.mu.Lock()
	c.state = state
	if err != nil {
		c.lastErr = err.Error()
	} else if state != connectors.GatewayStateDisconnected {
		c.lastErr = ""
	}
	status := c.statusLocked()
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(connectors.TopicGatewayState, status)
	}
}

func (c *Client) statusLocked() connectors.GatewayStatus {
	return connectors.GatewayStatus{
		State:      c.state,
		QueueLen:   len(c.queue),
		InFlightID: c.inFlight,
		Err:        c.lastErr,
		Transport:  c.link.Name(),
		Timestamp:  time.Now(),
	}
}
