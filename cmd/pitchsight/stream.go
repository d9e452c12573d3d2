package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pitchsight/console/internal/capture"
	"github.com/pitchsight/console/internal/diagnostics"
	"github.com/pitchsight/console/internal/logger"
	"github.com/pitchsight/console/internal/monitor"
	"github.com/pitchsight/console/internal/overlay"
	"github.com/pitchsight/console/internal/session"
	"github.com/pitchsight/console/pkg/types"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream frames to the processor until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stream-url",
				Usage: "Streaming endpoint (overrides config)",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Frame source: pattern, or dir",
				Value: "pattern",
			},
			&cli.StringFlag{
				Name:  "source-dir",
				Usage: "Directory of JPEG/PNG frames for the dir source",
			},
			&cli.IntFlag{
				Name:  "width",
				Usage: "Streamed frame width",
			},
			&cli.IntFlag{
				Name:  "height",
				Usage: "Streamed frame height",
			},
			&cli.Float64Flag{
				Name:  "normal-fps",
				Usage: "Send rate while the processor keeps up",
			},
			&cli.Float64Flag{
				Name:  "degraded-fps",
				Usage: "Send rate under slow-down warnings",
			},
			&cli.StringFlag{
				Name:  "session-id",
				Usage: "Session id to stream under (generated when empty)",
			},
			&cli.StringFlag{
				Name:  "debug-addr",
				Usage: "Address for /metrics, /healthz and /stats (overrides config)",
			},
			&cli.StringFlag{
				Name:  "view-addr",
				Usage: "Address for the browser operator view (MJPEG overlay + stats)",
			},
			&cli.StringFlag{
				Name:  "overlay",
				Usage: "Comma-separated overlay categories: players,tracking,ball,pitch_lines,radar (default all)",
			},
			&cli.DurationFlag{
				Name:  "status-interval",
				Usage: "Interval between status log lines",
				Value: 5 * time.Second,
			},
		},
		Action: streamAction,
	}
}

func streamAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("stream-url") {
		cfg.Backend.StreamURL = c.String("stream-url")
	}
	if c.IsSet("width") {
		cfg.Stream.Width = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.Stream.Height = c.Int("height")
	}
	if c.IsSet("normal-fps") {
		cfg.Stream.NormalFPS = c.Float64("normal-fps")
	}
	if c.IsSet("degraded-fps") {
		cfg.Stream.DegradedFPS = c.Float64("degraded-fps")
	}
	if c.IsSet("debug-addr") {
		cfg.Debug.Addr = c.String("debug-addr")
	}

	source, err := openSource(c, cfg.Stream.Width, cfg.Stream.Height)
	if err != nil {
		return err
	}

	toggles, err := parseToggles(c.String("overlay"))
	if err != nil {
		return err
	}

	diag := diagnostics.New(0)
	var view *monitor.Monitor
	sess := session.New(session.Config{
		Source:      source,
		URL:         cfg.Backend.StreamURL,
		SessionID:   c.String("session-id"),
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		NormalFPS:   cfg.Stream.NormalFPS,
		DegradedFPS: cfg.Stream.DegradedFPS,
		Diag:        diag,
		OnFrame: func(frame *types.Frame) {
			if view != nil {
				view.OnFrame(frame)
			}
		},
	})

	if addr := c.String("view-addr"); addr != "" {
		view = monitor.New(sess, toggles)
		view.Start()
		defer view.Stop()

		viewSrv := monitor.NewServer(addr, view, sess)
		viewSrv.Start()
		defer viewSrv.Shutdown()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	var debugSrv *http.Server
	if cfg.Debug.Addr != "" {
		debugSrv = startDebugServer(cfg.Debug.Addr, sess, diag)
		defer shutdownDebugServer(debugSrv)
	}

	logger.Info("Main", "Streaming session %s to %s, Ctrl+C to stop",
		sess.ID(), cfg.Backend.StreamURL)

	status := time.NewTicker(c.Duration("status-interval"))
	defer status.Stop()

	id, updates := sess.Transport().Subscribe()
	defer sess.Transport().Unsubscribe(id)

	for {
		select {
		case <-sigCh:
			logger.Info("Main", "Shutting down")
			return nil

		case <-status.C:
			snap := sess.Snapshot()
			logger.Info("Main", "state=%s rate=%.1ffps sent=%d dropped=%d warnings=%d latency=%.0fms",
				snap.StateName, snap.RateFPS, snap.Counters.FramesSent,
				snap.Counters.FramesDropped, snap.Counters.SlowDownWarnings,
				snap.Counters.MeanLatencyMs)

		case <-updates:
			if sess.Transport().State() == types.StateFailed {
				return fmt.Errorf("session %s failed: %s", sess.ID(), sess.Transport().LastError())
			}
		}
	}
}

// parseToggles maps a comma-separated category list to overlay
// toggles. Empty means all categories.
func parseToggles(list string) (overlay.Toggles, error) {
	if list == "" {
		return overlay.AllToggles(), nil
	}

	var toggles overlay.Toggles
	for _, name := range strings.Split(list, ",") {
		switch strings.TrimSpace(name) {
		case "players":
			toggles.Players = true
		case "tracking":
			toggles.Tracking = true
		case "ball":
			toggles.Ball = true
		case "pitch_lines":
			toggles.PitchLines = true
		case "radar":
			toggles.Radar = true
		default:
			return toggles, fmt.Errorf("unknown overlay category %q", name)
		}
	}
	return toggles, nil
}

func openSource(c *cli.Context, width, height int) (capture.FrameSource, error) {
	switch c.String("source") {
	case "pattern":
		return capture.NewPatternSource(width, height), nil
	case "dir":
		dir := c.String("source-dir")
		if dir == "" {
			return nil, fmt.Errorf("the dir source requires --source-dir")
		}
		return capture.OpenDir(dir)
	default:
		return nil, fmt.Errorf("unknown source %q (want pattern or dir)", c.String("source"))
	}
}

// startDebugServer serves Prometheus metrics, health and the session
// stats snapshot.
func startDebugServer(addr string, sess *session.Session, diag *diagnostics.Diagnostics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", diag.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess.Snapshot())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("Main", "Debug server on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "Debug server: %v", err)
		}
	}()
	return srv
}

func shutdownDebugServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
