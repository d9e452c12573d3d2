// Package transport owns the single persistent channel between a
// streaming session and the processing backend. It sends binary JPEG
// frames, decodes inbound JSON control/result messages at the
// boundary, and tracks the connection lifecycle:
//
//	idle -> connecting -> connected <-> reconnecting -> disconnected
//
// with any state able to fall to failed on unrecoverable error.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchsight/console/internal/diagnostics"
	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/pkg/types"
)

const (
	// DefaultHandshakeTimeout bounds the initial connect attempt.
	DefaultHandshakeTimeout = 5 * time.Second
	// DefaultMaxRetries is the reconnect attempt budget.
	DefaultMaxRetries = 5
	// DefaultBaseBackoff is the first reconnect delay; it doubles per
	// attempt up to DefaultMaxBackoff.
	DefaultBaseBackoff = 500 * time.Millisecond
	// DefaultMaxBackoff caps the exponential reconnect delay.
	DefaultMaxBackoff = 10 * time.Second

	// pendingLimit bounds the send-time correlation map.
	pendingLimit = 256
)

var (
	// ErrConnectBusy is returned when Connect is called while a
	// session is already being established or active.
	ErrConnectBusy = errors.New("transport: connect while session active")
	// ErrRetryBudgetExhausted surfaces in the failure message once
	// reconnect attempts run out.
	ErrRetryBudgetExhausted = errors.New("transport: reconnect budget exhausted")
)

// Config configures a Client. Zero fields take package defaults.
type Config struct {
	// URL is the streaming endpoint; the session id is appended as
	// the final path element.
	URL string

	HandshakeTimeout time.Duration
	MaxRetries       int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration

	// OnSlowDown is invoked for every slow-down warning; the session
	// wires it to the throttler.
	OnSlowDown func()

	// Diag receives drop/send/latency accounting. Required.
	Diag *diagnostics.Diagnostics
}

// Client is the streaming transport for one session at a time.
type Client struct {
	cfg    Config
	diag   *diagnostics.Diagnostics
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     types.ConnectionState
	conn      *websocket.Conn
	sessionID string
	desired   bool          // Session still wanted; gates auto-reconnect
	stopCh    chan struct{} // Closed on Disconnect to abort backoff waits
	lastErr   string
	latest    *types.DetectionResult
	revision  uint64
	nextSeq   uint64
	pending   map[uint64]time.Time // Send times keyed by frame sequence

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

// New creates a Client in the idle state.
func New(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Diag == nil {
		cfg.Diag = diagnostics.New(0)
	}

	return &Client{
		cfg:     cfg,
		diag:    cfg.Diag,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:   types.StateIdle,
		pending: make(map[uint64]time.Time),
		subs:    make(map[int]chan struct{}),
	}
}

// Connect establishes the channel for the given session id. The
// handshake is bounded by the configured timeout; on failure the
// state settles in failed and the caller must retry explicitly.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	switch c.state {
	case types.StateConnecting, types.StateConnected, types.StateReconnecting:
		c.mu.Unlock()
		return ErrConnectBusy
	}
	c.state = types.StateConnecting
	c.sessionID = sessionID
	c.desired = true
	c.lastErr = ""
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.notify()
	logger.Info("Transport", "Connecting session %s", sessionID)

	conn, err := c.dial(ctx, sessionID)
	if err != nil {
		c.fail(fmt.Sprintf("connect: %v", err))
		return fmt.Errorf("transport: connect session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	if !c.desired {
		// Disconnected while the handshake was in flight.
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.state = types.StateConnected
	c.conn = conn
	c.mu.Unlock()

	c.notify()
	logger.Info("Transport", "Session %s connected", sessionID)
	go c.readLoop(conn, stopCh)
	return nil
}

// SendFrame transmits one encoded frame. It requires the connected
// state; otherwise the frame is dropped, the drop counter increments,
// and false is returned. This is backpressure behavior, not an error.
func (c *Client) SendFrame(payload []byte) bool {
	c.mu.Lock()
	if c.state != types.StateConnected || c.conn == nil {
		c.mu.Unlock()
		c.diag.FramesDropped.Add(1)
		return false
	}

	now := time.Now()
	seq := c.nextSeq
	c.nextSeq++
	c.trackSendLocked(seq, now)

	err := c.conn.WriteMessage(websocket.BinaryMessage, payload)
	c.mu.Unlock()

	if err != nil {
		c.diag.FramesDropped.Add(1)
		logger.Warn("Transport", "Frame write failed: %v", err)
		return false
	}

	c.diag.RecordSend(len(payload), now)
	return true
}

// Disconnect tears the channel down and moves to disconnected.
// Idempotent: calling it while already down is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.desired = false
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	changed := c.state != types.StateDisconnected
	c.state = types.StateDisconnected
	c.mu.Unlock()

	if changed {
		logger.Info("Transport", "Session %s disconnected", c.SessionID())
		c.notify()
	}
}

// State returns the current connection state.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session this client was last connected to.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastError returns the human-readable message behind a failed state.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Latest returns the most recently arrived result (nil before the
// first one) and the revision counter that advances with each result.
// Results can arrive out of send order; the latest arrival wins.
func (c *Client) Latest() (*types.DetectionResult, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.revision
}

// Subscribe registers for change notifications. The channel receives
// a token whenever the revision or connection state changes; slow
// subscribers miss intermediate tokens, never block the transport.
func (c *Client) Subscribe() (int, <-chan struct{}) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan struct{}, 1)
	c.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (c *Client) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Client) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Client) dial(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	url := strings.TrimRight(c.cfg.URL, "/") + "/" + sessionID
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	return conn, err
}

// readLoop drains inbound messages until the connection drops.
func (c *Client) readLoop(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(stopCh)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := types.DecodeServerMessage(data)
	if err != nil {
		// Absorbed: one malformed frame must not kill the session.
		logger.Warn("Transport", "Dropping malformed message: %v", err)
		return
	}

	switch msg.Type {
	case types.MessageResult:
		c.applyResult(msg.Result)
	case types.MessageSlowDown:
		c.diag.SlowDownWarnings.Add(1)
		logger.Debug("Transport", "Slow-down warning received")
		if c.cfg.OnSlowDown != nil {
			c.cfg.OnSlowDown()
		}
	case types.MessageError:
		logger.Error("Transport", "Server error: %s", msg.Message)
		c.fail(msg.Message)
	}
}

func (c *Client) applyResult(result *types.DetectionResult) {
	c.diag.ResultsReceived.Add(1)
	if result.Dropped {
		c.diag.DroppedByServer.Add(1)
	}

	var rtt time.Duration
	haveRTT := false

	c.mu.Lock()
	if sentAt, ok := c.pending[uint64(result.FrameIndex)]; ok {
		delete(c.pending, uint64(result.FrameIndex))
		rtt = time.Since(sentAt)
		haveRTT = true
	}
	c.latest = result
	c.revision++
	c.mu.Unlock()

	if haveRTT {
		c.diag.RecordLatency(rtt)
	}
	c.notify()
}

// trackSendLocked remembers when a frame went out so round-trip
// latency can be derived when its result returns. Bounded: once the
// map fills, the oldest entries are discarded.
func (c *Client) trackSendLocked(seq uint64, at time.Time) {
	if len(c.pending) >= pendingLimit {
		cutoff := at.Add(-30 * time.Second)
		for k, v := range c.pending {
			if v.Before(cutoff) {
				delete(c.pending, k)
			}
		}
		// Still full means latency tracking lags hopelessly; reset.
		if len(c.pending) >= pendingLimit {
			c.pending = make(map[uint64]time.Time)
		}
	}
	c.pending[seq] = at
}

// handleClosed reacts to an unexpected channel closure. While the
// session is still desired it enters reconnecting with bounded
// backoff; otherwise the closure was requested and nothing happens.
func (c *Client) handleClosed(stopCh chan struct{}) {
	c.mu.Lock()
	if !c.desired || c.stopCh != stopCh {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = types.StateReconnecting
	sessionID := c.sessionID
	c.mu.Unlock()

	c.notify()
	logger.Warn("Transport", "Session %s channel closed, reconnecting", sessionID)
	go c.reconnectLoop(sessionID, stopCh)
}

// reconnectLoop retries the same session id with capped exponential
// backoff. Success returns to connected; exhausting the budget
// settles in failed and requires an explicit Connect to retry.
func (c *Client) reconnectLoop(sessionID string, stopCh chan struct{}) {
	backoff := c.cfg.BaseBackoff

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-stopCh:
			return
		case <-time.After(backoff):
		}

		c.diag.Reconnects.Add(1)
		logger.Info("Transport", "Reconnect attempt %d/%d for session %s",
			attempt, c.cfg.MaxRetries, sessionID)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx, sessionID)
		cancel()

		if err == nil {
			c.mu.Lock()
			if !c.desired || c.stopCh != stopCh {
				c.mu.Unlock()
				_ = conn.Close()
				return
			}
			c.state = types.StateConnected
			c.conn = conn
			c.mu.Unlock()

			c.notify()
			logger.Info("Transport", "Session %s reconnected", sessionID)
			go c.readLoop(conn, stopCh)
			return
		}

		logger.Warn("Transport", "Reconnect attempt %d failed: %v", attempt, err)
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	c.fail(fmt.Sprintf("%v after %d attempts", ErrRetryBudgetExhausted, c.cfg.MaxRetries))
}

// fail moves to the terminal failed state with a surfaced message.
func (c *Client) fail(msg string) {
	c.mu.Lock()
	c.state = types.StateFailed
	c.lastErr = msg
	c.desired = false
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.notify()
}
