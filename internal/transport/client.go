// Package transport maintains the duplex, message-oriented websocket channel
// to the remote voice service. It knows nothing about what the messages mean:
// it queues outbound envelopes while offline, keeps the connection alive with
// heartbeats, reconnects with exponential backoff and dispatches decoded
// inbound envelopes to registered handlers.
//
// All callbacks (message, state and error handlers) are delivered one at a
// time in the order the underlying events occurred, so a handler never races
// another handler of the same client.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/serial"
	"github.com/MrWong99/voxorder/pkg/protocol"
)

// State is the connection state of a [Client]. Exactly one is active.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler receives one decoded inbound message.
type Handler func(protocol.Message)

// Client is a reconnecting websocket client. The zero value is not usable;
// create one with [New]. All methods are safe for concurrent use.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	mu              sync.Mutex
	state           State
	conn            *websocket.Conn
	gen             uint64 // bumped whenever the current conn is abandoned
	cancel          context.CancelFunc
	shouldReconnect bool
	attempt         int
	retry           *time.Timer
	queue           []protocol.Message
	flushing        bool
	lastSeen        time.Time

	handlers      map[string][]Handler
	anyHandlers   []Handler
	stateHandlers []func(from, to State)
	errHandlers   []func(error)

	dropped atomic.Uint64
	events  serial.Queue
}

// New creates a disconnected client. Nothing is dialled until [Client.Connect].
// A nil logger uses [slog.Default]; nil metrics use [observe.DefaultMetrics].
func New(cfg Config, logger *slog.Logger, metrics *observe.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "transport"),
		metrics:  observe.OrDefault(metrics),
		handlers: make(map[string][]Handler),
	}
}

// ── Registration ──────────────────────────────────────────────────────────────

// On registers h for inbound messages of the given type.
func (c *Client) On(msgType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// OnAny registers h for every inbound message, after type-specific handlers.
func (c *Client) OnAny(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anyHandlers = append(c.anyHandlers, h)
}

// OnStateChange registers fn for connection state changes.
func (c *Client) OnStateChange(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// OnError registers fn for transport errors. Errors are never returned
// synchronously from Send.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errHandlers = append(c.errHandlers, fn)
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of messages waiting to be flushed.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Dropped returns how many messages were discarded because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Connect dials the service and enables automatic reconnection. The error of
// this first dial is returned to the caller and no reconnection is scheduled
// for it. Connecting an already connected or connecting client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	defer c.events.Drain()

	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopRetryLocked()
	c.shouldReconnect = true
	c.attempt = 0
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.shouldReconnect = false
		if c.state == StateConnecting {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		return err
	}
	if !c.open(conn) {
		return errors.New("transport: disconnected while connecting")
	}
	return nil
}

// Disconnect closes the connection with a normal closure, cancels all timers
// and disables automatic reconnection. It is always safe to call.
func (c *Client) Disconnect() error {
	defer c.events.Drain()

	c.mu.Lock()
	c.shouldReconnect = false
	c.stopRetryLocked()
	conn, cancel := c.detachLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.logger.Info("disconnected")
	}
	if cancel != nil {
		cancel()
	}
	if err != nil && websocket.CloseStatus(err) == -1 {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

// ClearQueue discards every queued outbound message.
func (c *Client) ClearQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.queue); n > 0 {
		c.metrics.QueueDepth.Add(context.Background(), -int64(n))
	}
	c.queue = nil
}

// ── Sending ───────────────────────────────────────────────────────────────────

// Send writes m when connected and queues it otherwise. When the queue is full
// the message is dropped, logged and counted; older entries are never evicted
// and Send never blocks on a full queue.
func (c *Client) Send(m protocol.Message) {
	c.mu.Lock()
	if c.state != StateConnected || c.flushing {
		c.enqueueLocked(m)
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.mu.Unlock()

	c.write(conn, m)
	c.events.Drain()
}

// SendPayload builds an envelope with [protocol.NewMessage] and sends it.
func (c *Client) SendPayload(msgType string, payload any) error {
	m, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	c.Send(m)
	return nil
}

func (c *Client) enqueueLocked(m protocol.Message) {
	if len(c.queue) >= c.cfg.QueueCapacity {
		c.dropped.Add(1)
		c.metrics.RecordQueueDrop(context.Background(), m.Type)
		c.logger.Warn("outbound queue full, dropping message",
			"type", m.Type,
			"capacity", c.cfg.QueueCapacity,
		)
		return
	}
	c.queue = append(c.queue, m)
	c.metrics.QueueDepth.Add(context.Background(), 1)
}

func (c *Client) write(conn *websocket.Conn, m protocol.Message) {
	data, err := m.Encode()
	if err != nil {
		c.logger.Error("encode outbound message", "type", m.Type, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Warn("write failed", "type", m.Type, "err", err)
		c.reportError(fmt.Errorf("transport: write %s: %w", m.Type, err))
		return
	}
	c.metrics.RecordSent(ctx, m.Type)
}

// flush drains the queue in FIFO order. Messages sent while flushing are
// appended to the queue, so they go out after everything queued before them.
func (c *Client) flush(conn *websocket.Conn, gen uint64) {
	for {
		c.mu.Lock()
		if c.gen != gen || len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()
			return
		}
		m := c.queue[0]
		c.queue[0] = protocol.Message{}
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.metrics.QueueDepth.Add(context.Background(), -1)
		c.write(conn, m)
	}
}

// ── Connection management ─────────────────────────────────────────────────────

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.cfg.Header != nil {
		h, err := c.cfg.Header(ctx)
		if err != nil {
			return nil, fmt.Errorf("transport: dial headers: %w", err)
		}
		opts.HTTPHeader = h
	}

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)
	return conn, nil
}

// open installs a freshly dialled conn. It reports false (and closes conn)
// when the client was disconnected while dialling.
func (c *Client) open(conn *websocket.Conn) bool {
	c.mu.Lock()
	if !c.shouldReconnect {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return false
	}
	c.gen++
	gen := c.gen
	connCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.attempt = 0
	c.lastSeen = time.Now()
	c.flushing = len(c.queue) > 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.cfg.URL)

	go c.readLoop(connCtx, conn, gen)
	go c.heartbeatLoop(connCtx, conn, gen)

	c.flush(conn, gen)
	return true
}

// detachLocked abandons the current conn. Must be called with c.mu held.
func (c *Client) detachLocked() (*websocket.Conn, context.CancelFunc) {
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.flushing = false
	c.gen++
	return conn, cancel
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.connectionLost(gen, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "err", err, "bytes", len(data))
			c.metrics.RecordMalformed(ctx, "")
			continue
		}
		c.metrics.RecordReceived(ctx, msg.Type)

		c.mu.Lock()
		c.lastSeen = time.Now()
		c.mu.Unlock()

		c.events.Enqueue(func() { c.deliver(msg) })
		c.events.Drain()
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		current := c.gen == gen
		silent := time.Since(c.lastSeen)
		c.mu.Unlock()
		if !current {
			return
		}

		if c.cfg.PongTimeout > 0 && silent > c.cfg.HeartbeatInterval+c.cfg.PongTimeout {
			c.logger.Warn("peer unresponsive, dropping connection", "silent_for", silent)
			_ = conn.CloseNow()
			return
		}

		hb, err := protocol.NewMessage(protocol.TypeHeartbeat, nil)
		if err != nil {
			continue
		}
		c.write(conn, hb)
		c.events.Drain()
	}
}

func (c *Client) connectionLost(gen uint64, cause error) {
	defer c.events.Drain()

	c.mu.Lock()
	if c.gen != gen {
		// Already abandoned by Disconnect or superseded.
		c.mu.Unlock()
		return
	}
	_, cancel := c.detachLocked()
	if cancel != nil {
		cancel()
	}

	if !c.shouldReconnect {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}

	c.logger.Warn("connection lost", "err", cause, "close_status", websocket.CloseStatus(cause))
	c.reportError(fmt.Errorf("transport: connection lost: %w", cause))
	c.scheduleRetryLocked()
	c.mu.Unlock()
}

// scheduleRetryLocked arms the reconnect timer or gives up. Must be called
// with c.mu held.
func (c *Client) scheduleRetryLocked() {
	b := c.cfg.Backoff
	if c.attempt >= b.MaxAttempts {
		c.shouldReconnect = false
		c.setStateLocked(StateError)
		c.metrics.RecordReconnect(context.Background(), "exhausted")
		c.logger.Error("reconnection failed after max attempts", "max_attempts", b.MaxAttempts)
		c.reportError(ErrReconnectExhausted)
		return
	}

	delay := b.Delay(c.attempt, b.Jitter())
	c.attempt++
	c.setStateLocked(StateReconnecting)
	c.logger.Info("scheduling reconnect",
		"attempt", c.attempt,
		"max_attempts", b.MaxAttempts,
		"delay", delay,
	)
	c.retry = time.AfterFunc(delay, c.reconnect)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) reconnect() {
	defer c.events.Drain()

	c.mu.Lock()
	if !c.shouldReconnect || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()

	conn, err := c.dial(context.Background())
	if err != nil {
		c.metrics.RecordReconnect(context.Background(), "failed")
		c.logger.Warn("reconnect attempt failed", "err", err)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.shouldReconnect || c.state != StateReconnecting {
			return
		}
		c.reportError(err)
		c.scheduleRetryLocked()
		return
	}

	if c.open(conn) {
		c.metrics.RecordReconnect(context.Background(), "ok")
	}
}

// ── Event delivery ────────────────────────────────────────────────────────────

// setStateLocked changes state and queues the notification. Must be called
// with c.mu held.
func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.events.Enqueue(func() {
		c.mu.Lock()
		hs := slices.Clone(c.stateHandlers)
		c.mu.Unlock()
		for _, h := range hs {
			h(from, to)
		}
	})
}

// reportError queues err for the error handlers. Safe with or without c.mu.
func (c *Client) reportError(err error) {
	c.events.Enqueue(func() {
		c.mu.Lock()
		hs := slices.Clone(c.errHandlers)
		c.mu.Unlock()
		for _, h := range hs {
			h(err)
		}
	})
}

func (c *Client) deliver(m protocol.Message) {
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[m.Type]...)
	hs = append(hs, c.anyHandlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h(m)
	}
}
