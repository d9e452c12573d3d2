package types

import (
	"image"
	"time"
)

// Frame is a single captured image on its way to the processor.
// The raw surface lives only on the send path; once encoded and
// handed to the transport the frame is discarded.
type Frame struct {
	Image     image.Image // Decoded surface
	Timestamp time.Time   // Capture timestamp
	Seq       uint64      // Sequential frame number within the session
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
}

// ConnectionState describes the streaming transport lifecycle.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
)

var stateNames = map[ConnectionState]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
}

// String returns the name form of the state.
func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
