package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchsight/console/internal/capture"
	"github.com/pitchsight/console/internal/diagnostics"
	"github.com/pitchsight/console/pkg/types"
)

// fakeClock is a manually advanced monotonic clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualDriver delivers ticks only when the test fires them.
type manualDriver struct {
	mu      sync.Mutex
	tick    func()
	stopped bool
}

func (d *manualDriver) Start(tick func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick = tick
}

func (d *manualDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

func (d *manualDriver) Fire() {
	d.mu.Lock()
	tick, stopped := d.tick, d.stopped
	d.mu.Unlock()
	if tick != nil && !stopped {
		tick()
	}
}

// streamBackend is a minimal streaming endpoint that counts inbound
// binary frames and can push control messages.
type streamBackend struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	frames   chan []byte
	conns    chan *websocket.Conn
}

func newStreamBackend(t *testing.T) *streamBackend {
	t.Helper()
	b := &streamBackend{
		frames: make(chan []byte, 64),
		conns:  make(chan *websocket.Conn, 2),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		go func() {
			for {
				msgType, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if msgType == websocket.BinaryMessage {
					b.frames <- data
				}
			}
		}()
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *streamBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/stream"
}

// drainFrames receives frames until none arrive for the idle window.
func (b *streamBackend) drainFrames(idle time.Duration) int {
	count := 0
	for {
		select {
		case <-b.frames:
			count++
		case <-time.After(idle):
			return count
		}
	}
}

// countingSource wraps a source and counts Close calls.
type countingSource struct {
	capture.FrameSource
	closes atomic.Int64
}

func (s *countingSource) Close() error {
	s.closes.Add(1)
	return s.FrameSource.Close()
}

func TestSession_StartStop(t *testing.T) {
	backend := newStreamBackend(t)
	source := &countingSource{FrameSource: capture.NewPatternSource(64, 48)}

	sess := New(Config{
		Source: source,
		URL:    backend.url(),
		Driver: &manualDriver{},
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := sess.Transport().State(); got != types.StateConnected {
		t.Fatalf("expected connected, got %v", got)
	}

	sess.Stop()
	if got := sess.Transport().State(); got != types.StateDisconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}
	if source.closes.Load() != 1 {
		t.Fatalf("expected source closed once, got %d", source.closes.Load())
	}

	// Idempotent.
	sess.Stop()
	if source.closes.Load() != 1 {
		t.Fatalf("second stop closed the source again: %d", source.closes.Load())
	}
}

func TestSession_SingleUse(t *testing.T) {
	backend := newStreamBackend(t)
	sess := New(Config{
		Source: capture.NewPatternSource(64, 48),
		URL:    backend.url(),
		Driver: &manualDriver{},
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()

	if err := sess.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestSession_FailedStartReleasesSource(t *testing.T) {
	source := &countingSource{FrameSource: capture.NewPatternSource(64, 48)}
	sess := New(Config{
		Source: source,
		URL:    "ws://127.0.0.1:1/stream",
		Driver: &manualDriver{},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Start(ctx); err == nil {
		t.Fatal("expected connect failure")
	}
	if source.closes.Load() != 1 {
		t.Fatalf("failed start must release the source, closes=%d", source.closes.Load())
	}
}

func TestSession_SlowDownWiresIntoGate(t *testing.T) {
	backend := newStreamBackend(t)
	clock := newFakeClock()
	sess := New(Config{
		Source: capture.NewPatternSource(64, 48),
		URL:    backend.url(),
		Driver: &manualDriver{},
		Now:    clock.Now,
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()
	conn := <-backend.conns

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"slow_down"}`)); err != nil {
		t.Fatalf("backend write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sess.Gate().Warnings() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow-down never reached the gate")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sess.Gate().Congested() {
		t.Fatal("gate not congested after warning")
	}
}

func TestSession_EndToEndThrottling(t *testing.T) {
	backend := newStreamBackend(t)
	clock := newFakeClock()
	driver := &manualDriver{}
	diag := diagnostics.New(0)

	sess := New(Config{
		Source:      capture.NewPatternSource(640, 480),
		URL:         backend.url(),
		Width:       640,
		Height:      480,
		NormalFPS:   15,
		DegradedFPS: 5,
		Driver:      driver,
		Diag:        diag,
		Now:         clock.Now,
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.Stop()
	<-backend.conns

	// One simulated second of 10ms host ticks at the normal tier:
	// one send per elapsed 1000/15 ms window, never more.
	for i := 0; i < 100; i++ {
		driver.Fire()
		clock.Advance(10 * time.Millisecond)
	}
	normal := backend.drainFrames(300 * time.Millisecond)
	if normal > 16 {
		t.Fatalf("normal tier oversent: %d frames in 1s at 15fps", normal)
	}
	if normal < 13 {
		t.Fatalf("normal tier undersent: %d frames in 1s at 15fps", normal)
	}

	// One slow-down warning: subsequent sends at most every 200ms.
	sess.Gate().SlowDown()
	for i := 0; i < 100; i++ {
		driver.Fire()
		clock.Advance(10 * time.Millisecond)
	}
	degraded := backend.drainFrames(300 * time.Millisecond)
	if degraded > 6 {
		t.Fatalf("degraded tier oversent: %d frames in 1s at 5fps", degraded)
	}
	if degraded < 4 {
		t.Fatalf("degraded tier undersent: %d frames in 1s at 5fps", degraded)
	}

	snap := sess.Snapshot()
	if snap.Counters.FramesSent != uint64(normal+degraded) {
		t.Fatalf("snapshot frames sent %d, backend saw %d",
			snap.Counters.FramesSent, normal+degraded)
	}
	if snap.RateFPS != 5 {
		t.Fatalf("snapshot rate %v, want degraded 5", snap.RateFPS)
	}
}
