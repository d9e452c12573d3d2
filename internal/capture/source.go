// Package capture acquires live frames for the streaming session.
// Exactly one source is active per session; Close releases the
// underlying device or handle deterministically on every exit path.
package capture

import (
	"errors"

	"github.com/pitchsight/console/pkg/types"
)

var (
	// ErrPermissionDenied indicates the capture device refused access.
	// It prevents streaming from starting; it never crashes the loop.
	ErrPermissionDenied = errors.New("capture: device access denied")
	// ErrDeviceUnavailable indicates no usable capture device.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	// ErrSourceClosed is returned by Next after Close.
	ErrSourceClosed = errors.New("capture: source closed")
)

// FrameSource produces one frame per Next call, on demand.
type FrameSource interface {
	// Next grabs the current frame. It blocks only for the grab
	// itself, never waiting for a future frame.
	Next() (*types.Frame, error)

	// Close releases the device. It is idempotent and safe to call
	// from any exit path, including failed initialization.
	Close() error
}
