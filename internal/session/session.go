// Package session owns one streaming session end to end: it wires a
// frame source, the rate gate, the encoder and the transport, and
// ties their lifecycle to explicit Start/Stop calls from the
// activating caller. There is no ambient shared session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchsight/console/internal/capture"
	"github.com/pitchsight/console/internal/diagnostics"
	"github.com/pitchsight/console/internal/encoder"
	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/internal/throttle"
	"github.com/pitchsight/console/internal/transport"
	"github.com/pitchsight/console/pkg/types"
)

const (
	// DefaultWidth and DefaultHeight are the streamed frame dimensions.
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrAlreadyStarted is returned by Start on a session that is already
// running or was stopped; sessions are single-use.
var ErrAlreadyStarted = errors.New("session: already started")

// Config assembles one session. Source is required; zero fields take
// package defaults.
type Config struct {
	// Source provides frames. The session takes ownership and closes
	// it on every exit path, including a failed Start.
	Source capture.FrameSource

	// URL is the streaming endpoint for the transport.
	URL string

	// SessionID scopes the channel; reconnects resume it. Generated
	// when empty.
	SessionID string

	Width  int
	Height int

	NormalFPS   float64
	DegradedFPS float64

	// Now is the gate's monotonic clock, injectable for tests.
	Now func() time.Time

	// Driver delivers ticks. Defaults to a TickerDriver at the
	// package cadence.
	Driver TickDriver

	// Diag receives session accounting. Created when nil.
	Diag *diagnostics.Diagnostics

	// OnFrame, when set, receives every grabbed frame before encoding.
	// The local monitor view taps frames here. Must not block.
	OnFrame func(*types.Frame)

	// Transport overrides the transport client, for tests. When nil
	// one is built from URL with the gate wired to slow-down warnings.
	Transport *transport.Client
}

// Session is one live streaming session.
type Session struct {
	id     string
	source capture.FrameSource
	gate   *throttle.Gate
	enc    *encoder.Encoder
	client *transport.Client
	diag   *diagnostics.Diagnostics
	driver TickDriver

	width   int
	height  int
	onFrame func(*types.Frame)

	mu      sync.Mutex
	started bool
	stopped bool

	encodes sync.WaitGroup // In-flight encode goroutines
}

// New assembles a Session from the config without touching the
// device or the network; Start does that.
func New(cfg Config) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Diag == nil {
		cfg.Diag = diagnostics.New(0)
	}
	if cfg.Driver == nil {
		cfg.Driver = NewTickerDriver(0)
	}

	gate := throttle.New(throttle.Config{
		NormalFPS:   cfg.NormalFPS,
		DegradedFPS: cfg.DegradedFPS,
		Now:         cfg.Now,
	})

	client := cfg.Transport
	if client == nil {
		client = transport.New(transport.Config{
			URL:        cfg.URL,
			OnSlowDown: gate.SlowDown,
			Diag:       cfg.Diag,
		})
	}

	return &Session{
		id:      cfg.SessionID,
		source:  cfg.Source,
		gate:    gate,
		enc:     encoder.New(),
		client:  client,
		diag:    cfg.Diag,
		driver:  cfg.Driver,
		width:   cfg.Width,
		height:  cfg.Height,
		onFrame: cfg.OnFrame,
	}
}

// ID returns the session id the streaming channel is scoped to.
func (s *Session) ID() string { return s.id }

// Gate exposes the rate gate, for observers and the recovery signal.
func (s *Session) Gate() *throttle.Gate { return s.gate }

// Transport exposes the underlying client for state and result reads.
func (s *Session) Transport() *transport.Client { return s.client }

// Diagnostics exposes the session's counters and history.
func (s *Session) Diagnostics() *diagnostics.Diagnostics { return s.diag }

// Start connects the transport and begins the tick loop. On any
// failure the frame source is released before returning.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.diag.Reset()
	logger.Info("Session", "Starting session %s (%dx%d)", s.id, s.width, s.height)

	if err := s.client.Connect(ctx, s.id); err != nil {
		if cerr := s.source.Close(); cerr != nil {
			logger.Warn("Session", "Source close after failed start: %v", cerr)
		}
		return fmt.Errorf("session %s: %w", s.id, err)
	}

	s.driver.Start(s.tick)
	return nil
}

// Stop synchronously halts the tick loop, waits out in-flight
// encodes, closes the transport, and releases the frame source.
// Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.driver.Stop()
		s.encodes.Wait()
	}
	s.client.Disconnect()
	if err := s.source.Close(); err != nil && !errors.Is(err, capture.ErrSourceClosed) {
		logger.Warn("Session", "Source close: %v", err)
	}
	logger.Info("Session", "Session %s stopped", s.id)
}

// tick runs once per driver tick. The gate decides whether this tick
// becomes a send; when it does, the frame is grabbed synchronously
// and encoded off the tick path so a slow encode never stalls the
// loop. The transport drops the payload itself when not connected.
func (s *Session) tick() {
	s.gate.Tick(func() {
		frame, err := s.source.Next()
		if err != nil {
			if !errors.Is(err, capture.ErrSourceClosed) {
				logger.Warn("Session", "Frame grab failed: %v", err)
			}
			return
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}

		s.encodes.Add(1)
		go func(frame *types.Frame) {
			defer s.encodes.Done()
			payload, err := s.enc.Encode(frame.Image, s.width, s.height)
			if err != nil {
				s.diag.EncodeFailures.Add(1)
				s.diag.FramesDropped.Add(1)
				return
			}
			s.client.SendFrame(payload)
		}(frame)
	})
}

// Stats is one observable snapshot of the session for status lines
// and the debug panel.
type Stats struct {
	SessionID string                `json:"session_id"`
	State     types.ConnectionState `json:"-"`
	StateName string                `json:"state"`
	LastError string                `json:"last_error,omitempty"`
	RateFPS   float64               `json:"rate_fps"`
	Congested bool                  `json:"congested"`
	Counters  diagnostics.Stats     `json:"counters"`
}

// Snapshot assembles the current session stats.
func (s *Session) Snapshot() Stats {
	state := s.client.State()
	return Stats{
		SessionID: s.id,
		State:     state,
		StateName: state.String(),
		LastError: s.client.LastError(),
		RateFPS:   s.gate.Rate(),
		Congested: s.gate.Congested(),
		Counters:  s.diag.Snapshot(),
	}
}
