package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pitchsight/console/internal/capture"
	"github.com/pitchsight/console/internal/encoder"
	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/internal/session"
)

// statusInterval is the cadence of SSE status events.
const statusInterval = time.Second

// Server exposes the local operator view over HTTP.
type Server struct {
	monitor *Monitor
	sess    *session.Session
	srv     *http.Server
	blank   []byte
}

// NewServer builds the view server on the given address.
func NewServer(addr string, m *Monitor, sess *session.Session) *Server {
	s := &Server{
		monitor: m,
		sess:    sess,
		blank:   blankJPEG(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/events", s.handleEvents)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the view mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		logger.Info("Monitor", "Operator view on http://%s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Monitor", "View server: %v", err)
		}
	}()
}

// Shutdown stops the server, waiting briefly for open streams.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, indexHTML, s.sess.ID())
}

// handleStream serves the composed overlay frames as MJPEG.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	id, frames := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(id)

	for {
		var payload []byte
		select {
		case <-r.Context().Done():
			return
		case data, open := <-frames:
			if !open {
				return
			}
			payload = data
		case <-time.After(5 * time.Second):
			// No frame for 5 seconds, send a blank to keep the
			// connection alive.
			payload = s.blank
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("Monitor", "MJPEG client disconnected: %v", err)
			return
		}
		if _, err := w.Write(payload); err != nil {
			logger.Debug("Monitor", "MJPEG client disconnected: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("Monitor", "MJPEG client disconnected: %v", err)
			return
		}
		flusher.Flush()
	}
}

// handleEvents streams session stats snapshots as SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := writeSSE(w, s.sess.Snapshot()); err != nil {
				logger.Debug("Monitor", "SSE client disconnected: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// blankJPEG renders a color-bar placeholder for idle streams.
func blankJPEG() []byte {
	source := capture.NewPatternSource(session.DefaultWidth, session.DefaultHeight)
	defer source.Close()

	frame, err := source.Next()
	if err != nil {
		return nil
	}
	payload, err := encoder.NewWithQuality(viewQuality).
		Encode(frame.Image, frame.Width, frame.Height)
	if err != nil {
		return nil
	}
	return payload
}
