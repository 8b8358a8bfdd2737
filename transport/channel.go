// Package transport owns the websocket connection to the agent backend.
//
// A Channel connects, reports status transitions, delivers decoded inbound
// frames to a single subscriber, and reconnects after an unexpected close.
// All callbacks (status and frames) are serialized: a subscriber never sees
// two callbacks running at once, and frames arrive in wire order.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bazelment/prettycode/logging"
	"github.com/bazelment/prettycode/protocol"
)

const (
	// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
	DefaultReconnectDelay = 3 * time.Second

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Tool results can carry whole files.
	maxMessageSize = 16 << 20
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// FrameHandler receives each decoded inbound frame.
type FrameHandler func(protocol.Frame)

// StatusHandler receives each status transition.
type StatusHandler func(Status)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = logging.OrNop(l) }
}

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) { c.reconnectDelay = d }
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// Channel is a reconnecting websocket client.
type Channel struct {
	dialer         *websocket.Dialer
	logger         *slog.Logger
	url            string
	reconnectDelay time.Duration

	// cbMu serializes every callback invocation.
	cbMu sync.Mutex
	// writeMu serializes writes to the current connection.
	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	reconnect *time.Timer
	onFrame   FrameHandler
	onStatus  StatusHandler
	status    Status
	// gen identifies the current connection attempt. Any goroutine holding
	// an older value has been superseded and must not touch shared state.
	gen uint64

	// reconnectCommitted runs after a reconnect timer has moved the channel
	// to connecting and before it dials. Tests only.
	reconnectCommitted func()
}

// New creates a Channel for the given ws:// or wss:// URL. It does not
// connect until Connect is called.
func New(url string, opts ...Option) *Channel {
	c := &Channel{
		url:            url,
		dialer:         websocket.DefaultDialer,
		logger:         logging.Nop(),
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transport")
	return c
}

// URL returns the backend URL.
func (c *Channel) URL() string { return c.url }

// Status returns the current connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe registers the inbound frame handler, replacing any previous one.
func (c *Channel) Subscribe(h FrameHandler) {
	c.mu.Lock()
	c.onFrame = h
	c.mu.Unlock()
}

// OnStatusChange registers the status handler, replacing any previous one.
func (c *Channel) OnStatusChange(h StatusHandler) {
	c.mu.Lock()
	c.onStatus = h
	c.mu.Unlock()
}

// Connect starts connecting in the background. It is a no-op unless the
// channel is disconnected. A pending reconnect is superseded.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return
	}
	gen, ctx := c.beginConnectLocked()
	c.mu.Unlock()

	c.notifyStatus(gen, StatusConnecting)
	go c.run(ctx, gen)
}

// beginConnectLocked moves a disconnected channel to connecting under a new
// generation.
func (c *Channel) beginConnectLocked() (uint64, context.Context) {
	c.stopReconnectLocked()
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.status = StatusConnecting
	return c.gen, ctx
}

// Disconnect closes the connection and cancels any pending reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.stopReconnectLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	prev := c.status
	c.status = StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	if prev != StatusDisconnected {
		c.notifyStatus(gen, StatusDisconnected)
	}
}

// Send writes one outbound frame. It returns false without queueing when
// the channel is not connected or the write fails.
func (c *Channel) Send(frame protocol.OutboundFrame) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	data, err := frame.Marshal()
	if err != nil {
		c.logger.Error("failed to encode outbound frame", "type", frame.Type, "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("write failed", "type", frame.Type, "error", err)
		// Closing makes the read loop observe the failure and reconnect.
		conn.Close()
		return false
	}
	return true
}

func (c *Channel) run(ctx context.Context, gen uint64) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.status = StatusDisconnected
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		c.logger.Warn("connect failed", "url", c.url, "gen", gen, "error", err, "retry_in", c.reconnectDelay)
		c.notifyStatus(gen, StatusDisconnected)
		return
	}
	c.conn = conn
	c.status = StatusConnected
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.url, "gen", gen)
	c.notifyStatus(gen, StatusConnected)

	done := make(chan struct{})
	go c.pingLoop(conn, done)
	c.readLoop(gen, conn)
	close(done)
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", "gen", gen, "error", err)
			} else {
				c.logger.Debug("connection closed", "gen", gen, "error", err)
			}
			c.handleClose(gen, conn)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "gen", gen, "error", err)
			continue
		}
		c.deliver(gen, frame)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) handleClose(gen uint64, conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if gen != c.gen {
		// Explicit Disconnect or a newer Connect already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.status = StatusDisconnected
	c.scheduleReconnectLocked(gen)
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect", "gen", gen, "delay", c.reconnectDelay)
	c.notifyStatus(gen, StatusDisconnected)
}

func (c *Channel) scheduleReconnectLocked(gen uint64) {
	c.stopReconnectLocked()
	c.reconnect = time.AfterFunc(c.reconnectDelay, func() {
		// The staleness check and the move to connecting share one critical
		// section, so a Disconnect either wins outright or supersedes the
		// new attempt.
		c.mu.Lock()
		if gen != c.gen || c.status != StatusDisconnected {
			c.mu.Unlock()
			c.logger.Debug("skipping stale reconnect", "gen", gen)
			return
		}
		next, ctx := c.beginConnectLocked()
		hook := c.reconnectCommitted
		c.mu.Unlock()

		if hook != nil {
			hook()
		}
		c.notifyStatus(next, StatusConnecting)
		go c.run(ctx, next)
	})
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Channel) notifyStatus(gen uint64, s Status) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	h := c.onStatus
	current := gen == c.gen
	c.mu.Unlock()
	if h == nil || !current {
		return
	}
	h(s)
}

func (c *Channel) deliver(gen uint64, f protocol.Frame) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	h := c.onFrame
	current := gen == c.gen
	c.mu.Unlock()
	if h == nil || !current {
		return
	}
	h(f)
}
