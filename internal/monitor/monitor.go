// Package monitor serves a local operator view of a streaming
// session: the live frames with detection overlays drawn on top as
// MJPEG, plus session stats over SSE.
package monitor

import (
	"image/draw"
	"sync"

	"github.com/pitchsight/console/internal/encoder"
	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/internal/overlay"
	"github.com/pitchsight/console/internal/session"
	"github.com/pitchsight/console/pkg/types"
)

// viewQuality is the JPEG quality for the local view; lower than the
// streamed frames since this only feeds a local browser tab.
const viewQuality = 75

// Monitor composes overlay frames for the local view and fans them
// out to the connected MJPEG clients.
type Monitor struct {
	sess    *session.Session
	enc     *encoder.Encoder
	toggles overlay.Toggles

	frameCh chan *types.Frame

	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	stop    chan struct{}
	stopped bool
}

// New creates a Monitor for the given session with the overlay
// categories to draw.
func New(sess *session.Session, toggles overlay.Toggles) *Monitor {
	return &Monitor{
		sess:    sess,
		enc:     encoder.NewWithQuality(viewQuality),
		toggles: toggles,
		frameCh: make(chan *types.Frame, 1),
		clients: make(map[int]chan []byte),
		stop:    make(chan struct{}),
	}
}

// OnFrame receives grabbed frames from the session tap. Latest wins:
// when composition lags, the pending frame is replaced, never queued.
func (m *Monitor) OnFrame(frame *types.Frame) {
	for {
		select {
		case m.frameCh <- frame:
			return
		default:
			select {
			case <-m.frameCh:
			default:
			}
		}
	}
}

// Subscribe adds a view client and returns its frame channel.
func (m *Monitor) Subscribe() (int, <-chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	m.clients[id] = ch

	logger.Debug("Monitor", "Client #%d subscribed (total clients: %d)", id, len(m.clients))
	return id, ch
}

// Unsubscribe removes a view client.
func (m *Monitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.clients[id]; ok {
		close(ch)
		delete(m.clients, id)
		logger.Debug("Monitor", "Client #%d unsubscribed (remaining clients: %d)", id, len(m.clients))
	}
}

// Start begins the composition loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the composition loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		close(m.stop)
		m.stopped = true
	}
	m.mu.Unlock()
}

func (m *Monitor) run() {
	canvas := overlay.NewImageCanvas(session.DefaultWidth, session.DefaultHeight)

	for {
		select {
		case <-m.stop:
			return
		case frame := <-m.frameCh:
			m.mu.Lock()
			clientCount := len(m.clients)
			m.mu.Unlock()

			// No clients, no composition work.
			if clientCount == 0 {
				continue
			}

			payload := m.compose(canvas, frame)
			if payload == nil {
				continue
			}
			m.broadcast(payload)
		}
	}
}

// compose draws the latest detection result over the frame and
// encodes the composite.
func (m *Monitor) compose(canvas *overlay.ImageCanvas, frame *types.Frame) []byte {
	result, _ := m.sess.Transport().Latest()

	base := &frameCanvas{ImageCanvas: canvas, frame: frame}
	overlay.Render(base, frame.Width, frame.Height, result, m.toggles)

	payload, err := m.enc.Encode(canvas.Image(), frame.Width, frame.Height)
	if err != nil {
		logger.Warn("Monitor", "Compose encode failed: %v", err)
		return nil
	}
	return payload
}

func (m *Monitor) broadcast(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.clients {
		select {
		case ch <- payload:
		default:
			// Client too slow, skip this frame for it.
		}
	}
}

// frameCanvas renders overlays onto the camera frame instead of a
// blank background: Clear blits the frame, everything else passes
// through.
type frameCanvas struct {
	*overlay.ImageCanvas
	frame *types.Frame
}

func (c *frameCanvas) Clear() {
	c.ImageCanvas.Clear()
	dst := c.Image()
	draw.Draw(dst, dst.Bounds(), c.frame.Image, c.frame.Image.Bounds().Min, draw.Src)
}
