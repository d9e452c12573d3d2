// Package diagnostics holds the rolling counters and bounded history
// a streaming session exposes for operational visibility. Counters
// are mutated only by the transport's message handler and the send
// path; observers read snapshots.
package diagnostics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultHistory is the default ring capacity for frame sizes,
// latencies and send timestamps.
const DefaultHistory = 50

// Diagnostics tracks per-session streaming counters and history.
type Diagnostics struct {
	// Counters
	FramesSent       atomic.Uint64
	FramesDropped    atomic.Uint64
	SlowDownWarnings atomic.Uint64
	EncodeFailures   atomic.Uint64
	Reconnects       atomic.Uint64
	ResultsReceived  atomic.Uint64
	DroppedByServer  atomic.Uint64

	mu         sync.Mutex
	frameSizes *Ring // Bytes per sent frame
	latencies  *Ring // Round-trip latency in ms
	sendTimes  *Ring // Unix nanos of recent sends, for FPS

	registry *prometheus.Registry
}

// Stats is a read-only snapshot for the debug panel.
type Stats struct {
	FramesSent       uint64    `json:"frames_sent"`
	FramesDropped    uint64    `json:"frames_dropped"`
	SlowDownWarnings uint64    `json:"slow_down_warnings"`
	EncodeFailures   uint64    `json:"encode_failures"`
	Reconnects       uint64    `json:"reconnects"`
	ResultsReceived  uint64    `json:"results_received"`
	DroppedByServer  uint64    `json:"dropped_by_server"`
	FrameSizes       []float64 `json:"frame_sizes"`
	LatenciesMs      []float64 `json:"latencies_ms"`
	MeanLatencyMs    float64   `json:"mean_latency_ms"`
	SendFPS          float64   `json:"send_fps"`
}

// New creates a Diagnostics with history rings of the given capacity
// and registers its Prometheus collectors.
func New(historyCap int) *Diagnostics {
	if historyCap <= 0 {
		historyCap = DefaultHistory
	}
	d := &Diagnostics{
		frameSizes: NewRing(historyCap),
		latencies:  NewRing(historyCap),
		sendTimes:  NewRing(historyCap),
		registry:   prometheus.NewRegistry(),
	}
	d.registerPrometheusMetrics()
	return d
}

func (d *Diagnostics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"console_frames_sent_total", "Total frames sent to the processor", d.FramesSent.Load},
		{"console_frames_dropped_total", "Total frames dropped by the client (not connected or encode failed)", d.FramesDropped.Load},
		{"console_slow_down_warnings_total", "Total slow-down warnings received", d.SlowDownWarnings.Load},
		{"console_encode_failures_total", "Total frame encode failures", d.EncodeFailures.Load},
		{"console_reconnects_total", "Total transport reconnect attempts", d.Reconnects.Load},
		{"console_results_received_total", "Total detection results received", d.ResultsReceived.Load},
		{"console_server_dropped_total", "Total frames the server declined to process", d.DroppedByServer.Load},
	}

	for _, g := range gauges {
		load := g.load
		d.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}

	d.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_send_fps",
			Help: "Observed frame send rate",
		},
		d.SendFPS,
	))
	d.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "console_mean_latency_ms",
			Help: "Mean round-trip latency over the history window",
		},
		func() float64 {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.latencies.Mean()
		},
	))
}

// RecordSend records one transmitted frame of the given payload size.
func (d *Diagnostics) RecordSend(sizeBytes int, at time.Time) {
	d.FramesSent.Add(1)
	d.mu.Lock()
	d.frameSizes.Push(float64(sizeBytes))
	d.sendTimes.Push(float64(at.UnixNano()))
	d.mu.Unlock()
}

// RecordLatency records one frame's round-trip latency.
func (d *Diagnostics) RecordLatency(rtt time.Duration) {
	d.mu.Lock()
	d.latencies.Push(float64(rtt.Milliseconds()))
	d.mu.Unlock()
}

// SendFPS derives the observed send rate from recent send timestamps.
func (d *Diagnostics) SendFPS() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	times := d.sendTimes.Values()
	if len(times) < 2 {
		return 0
	}
	span := times[len(times)-1] - times[0]
	if span <= 0 {
		return 0
	}
	return float64(len(times)-1) / (span / float64(time.Second))
}

// Snapshot returns a consistent copy of all counters and history.
func (d *Diagnostics) Snapshot() Stats {
	stats := Stats{
		FramesSent:       d.FramesSent.Load(),
		FramesDropped:    d.FramesDropped.Load(),
		SlowDownWarnings: d.SlowDownWarnings.Load(),
		EncodeFailures:   d.EncodeFailures.Load(),
		Reconnects:       d.Reconnects.Load(),
		ResultsReceived:  d.ResultsReceived.Load(),
		DroppedByServer:  d.DroppedByServer.Load(),
		SendFPS:          d.SendFPS(),
	}

	d.mu.Lock()
	stats.FrameSizes = d.frameSizes.Values()
	stats.LatenciesMs = d.latencies.Values()
	stats.MeanLatencyMs = d.latencies.Mean()
	d.mu.Unlock()

	return stats
}

// Reset clears all counters and history for a new session.
func (d *Diagnostics) Reset() {
	d.FramesSent.Store(0)
	d.FramesDropped.Store(0)
	d.SlowDownWarnings.Store(0)
	d.EncodeFailures.Store(0)
	d.Reconnects.Store(0)
	d.ResultsReceived.Store(0)
	d.DroppedByServer.Store(0)

	d.mu.Lock()
	d.frameSizes.Reset()
	d.latencies.Reset()
	d.sendTimes.Reset()
	d.mu.Unlock()
}

// Handler returns the Prometheus HTTP handler for this session's registry.
func (d *Diagnostics) Handler() http.Handler {
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})
}
