package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchsight/console/internal/diagnostics"
	"github.com/pitchsight/console/pkg/types"
)

// wsBackend emulates the processing backend: it accepts streaming
// connections, records inbound binary frames, and lets tests inject
// result/control messages.
type wsBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	refuse   bool
	conns    chan *websocket.Conn
	frames   chan []byte
	sessions chan string
}

func newWSBackend(t *testing.T) *wsBackend {
	t.Helper()
	b := &wsBackend{
		t:        t,
		conns:    make(chan *websocket.Conn, 4),
		frames:   make(chan []byte, 16),
		sessions: make(chan string, 4),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *wsBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	refuse := b.refuse
	b.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	b.sessions <- parts[len(parts)-1]

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
}

func (b *wsBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/stream"
}

func (b *wsBackend) setRefuse(refuse bool) {
	b.mu.Lock()
	b.refuse = refuse
	b.mu.Unlock()
}

func (b *wsBackend) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backend connection")
		return nil
	}
}

func (b *wsBackend) sendJSON(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("backend write: %v", err)
	}
}

func newTestClient(b *wsBackend, diag *diagnostics.Diagnostics) *Client {
	return New(Config{
		URL:              b.url(),
		HandshakeTimeout: time.Second,
		MaxRetries:       3,
		BaseBackoff:      10 * time.Millisecond,
		MaxBackoff:       50 * time.Millisecond,
		Diag:             diag,
	})
}

func waitState(t *testing.T, c *Client, want types.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, c.State())
}

func waitRevision(t *testing.T, c *Client, min uint64) *types.DetectionResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if result, rev := c.Latest(); rev >= min {
			return result
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for revision %d", min)
	return nil
}

func TestClient_ConnectAndSend(t *testing.T) {
	backend := newWSBackend(t)
	diag := diagnostics.New(0)
	client := newTestClient(backend, diag)
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "pipeline-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := client.State(); got != types.StateConnected {
		t.Fatalf("expected connected, got %v", got)
	}
	if session := <-backend.sessions; session != "pipeline-1" {
		t.Fatalf("expected session id on the path, got %q", session)
	}
	backend.waitConn(t)

	if !client.SendFrame([]byte{0xFF, 0xD8, 0x01}) {
		t.Fatal("send while connected should succeed")
	}

	select {
	case frame := <-backend.frames:
		if len(frame) != 3 {
			t.Fatalf("unexpected frame payload %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("backend never received the frame")
	}

	if got := diag.FramesSent.Load(); got != 1 {
		t.Fatalf("expected 1 sent frame, got %d", got)
	}
}

func TestClient_SendWhileNotConnectedDrops(t *testing.T) {
	backend := newWSBackend(t)
	diag := diagnostics.New(0)
	client := newTestClient(backend, diag)

	for i := 1; i <= 3; i++ {
		if client.SendFrame([]byte{1}) {
			t.Fatal("send while idle must not succeed")
		}
		if got := diag.FramesDropped.Load(); got != uint64(i) {
			t.Fatalf("expected %d drops, got %d", i, got)
		}
	}
}

func TestClient_ResultUpdatesLatestAndRevision(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	id, updates := client.Subscribe()
	defer client.Unsubscribe(id)

	backend.sendJSON(t, conn, map[string]any{
		"type": "result",
		"result": map[string]any{
			"frame_index": 4,
			"detections": []map[string]any{
				{"class_name": "player", "confidence": 0.9,
					"bbox": map[string]int{"x": 1, "y": 2, "w": 3, "h": 4}},
			},
		},
	})

	result := waitRevision(t, client, 1)
	if result.FrameIndex != 4 || len(result.Detections) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("subscriber never notified")
	}
}

func TestClient_LatestArrivalWins(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	// Frame 5 arrives, then frame 3 out of order: the later arrival
	// becomes current regardless of its lower index.
	backend.sendJSON(t, conn, map[string]any{
		"type":   "result",
		"result": map[string]any{"frame_index": 5, "detections": []any{}},
	})
	waitRevision(t, client, 1)

	backend.sendJSON(t, conn, map[string]any{
		"type":   "result",
		"result": map[string]any{"frame_index": 3, "detections": []any{}},
	})
	result := waitRevision(t, client, 2)
	if result.FrameIndex != 3 {
		t.Fatalf("expected latest arrival (frame 3) to win, got frame %d", result.FrameIndex)
	}
}

func TestClient_SlowDownWarning(t *testing.T) {
	backend := newWSBackend(t)
	diag := diagnostics.New(0)

	warned := make(chan struct{}, 4)
	client := New(Config{
		URL:         backend.url(),
		MaxRetries:  3,
		BaseBackoff: 10 * time.Millisecond,
		Diag:        diag,
		OnSlowDown:  func() { warned <- struct{}{} },
	})
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	backend.sendJSON(t, conn, map[string]any{"type": "slow_down"})

	select {
	case <-warned:
	case <-time.After(time.Second):
		t.Fatal("slow-down callback never fired")
	}
	if got := diag.SlowDownWarnings.Load(); got != 1 {
		t.Fatalf("expected 1 warning counted, got %d", got)
	}
	// Backpressure is not an error: still connected.
	if got := client.State(); got != types.StateConnected {
		t.Fatalf("slow_down must not change state, got %v", got)
	}
}

func TestClient_ServerErrorFailsSession(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	backend.sendJSON(t, conn, map[string]any{"type": "error", "message": "pipeline exploded"})

	waitState(t, client, types.StateFailed)
	if !strings.Contains(client.LastError(), "pipeline exploded") {
		t.Fatalf("expected surfaced error message, got %q", client.LastError())
	}
}

func TestClient_MalformedMessageAbsorbed(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("backend write: %v", err)
	}
	backend.sendJSON(t, conn, map[string]any{
		"type":   "result",
		"result": map[string]any{"frame_index": 1, "detections": []any{}},
	})

	waitRevision(t, client, 1)
	if got := client.State(); got != types.StateConnected {
		t.Fatalf("malformed frame must not kill the session, got %v", got)
	}
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	backend.waitConn(t)

	client.Disconnect()
	if got := client.State(); got != types.StateDisconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}
	client.Disconnect()
	if got := client.State(); got != types.StateDisconnected {
		t.Fatalf("second disconnect changed state to %v", got)
	}
}

func TestClient_ReconnectsOnUnexpectedClose(t *testing.T) {
	backend := newWSBackend(t)
	diag := diagnostics.New(0)
	client := newTestClient(backend, diag)
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "pipeline-7"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-backend.sessions
	conn := backend.waitConn(t)

	// Simulate an unexpected server-side drop.
	_ = conn.Close()

	waitState(t, client, types.StateConnected)
	if session := <-backend.sessions; session != "pipeline-7" {
		t.Fatalf("reconnect must reuse the session id, got %q", session)
	}
	if got := diag.Reconnects.Load(); got == 0 {
		t.Fatal("expected reconnect attempts counted")
	}
}

func TestClient_RetryBudgetExhaustion(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	// Refuse all reconnect attempts, then drop the channel.
	backend.setRefuse(true)
	_ = conn.Close()

	waitState(t, client, types.StateFailed)
	if !strings.Contains(client.LastError(), "reconnect budget exhausted") {
		t.Fatalf("expected budget exhaustion message, got %q", client.LastError())
	}
}

func TestClient_ConnectFailureSettlesFailed(t *testing.T) {
	backend := newWSBackend(t)
	backend.setRefuse(true)
	client := newTestClient(backend, diagnostics.New(0))

	if err := client.Connect(context.Background(), "p"); err == nil {
		t.Fatal("expected connect error")
	}
	if got := client.State(); got != types.StateFailed {
		t.Fatalf("expected failed after handshake refusal, got %v", got)
	}

	// Explicit user-triggered retry succeeds once the backend is back.
	backend.setRefuse(false)
	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("explicit retry: %v", err)
	}
	defer client.Disconnect()
	if got := client.State(); got != types.StateConnected {
		t.Fatalf("expected connected after retry, got %v", got)
	}
}

func TestClient_ConnectWhileActiveIsRejected(t *testing.T) {
	backend := newWSBackend(t)
	client := newTestClient(backend, diagnostics.New(0))
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Connect(context.Background(), "q"); err != ErrConnectBusy {
		t.Fatalf("expected ErrConnectBusy, got %v", err)
	}
}

func TestClient_LatencyCorrelation(t *testing.T) {
	backend := newWSBackend(t)
	diag := diagnostics.New(8)
	client := newTestClient(backend, diag)
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "p"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := backend.waitConn(t)

	// First send is sequence 0; the echoed result carries index 0.
	if !client.SendFrame([]byte{1, 2, 3}) {
		t.Fatal("send failed")
	}
	<-backend.frames

	backend.sendJSON(t, conn, map[string]any{
		"type":   "result",
		"result": map[string]any{"frame_index": 0, "detections": []any{}},
	})
	waitRevision(t, client, 1)

	stats := diag.Snapshot()
	if len(stats.LatenciesMs) != 1 {
		t.Fatalf("expected 1 latency sample, got %v", stats.LatenciesMs)
	}
}
