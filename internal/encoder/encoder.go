// Package encoder rasterizes captured frames to JPEG payloads for
// the streaming transport. Failures never propagate into the render
// loop; callers treat a nil payload as a dropped frame.
package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// DefaultQuality is the fixed JPEG quality for streamed frames.
const DefaultQuality = 80

var (
	// ErrNoSurface is returned when the source surface is not ready.
	ErrNoSurface = errors.New("encoder: no source surface")
	// ErrInvalidDimensions is returned for zero or negative target dimensions.
	ErrInvalidDimensions = errors.New("encoder: invalid target dimensions")
)

// Encoder produces compressed frame payloads. It keeps no references
// to prior frames.
type Encoder struct {
	quality int
}

// New creates an Encoder at the default quality.
func New() *Encoder {
	return &Encoder{quality: DefaultQuality}
}

// NewWithQuality creates an Encoder with an explicit JPEG quality.
func NewWithQuality(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{quality: quality}
}

// Encode rasterizes src to a JPEG of the target dimensions, scaling
// when they differ from the source. On failure it returns a nil
// payload and a typed error the caller can absorb as a drop.
func (e *Encoder) Encode(src image.Image, width, height int) ([]byte, error) {
	if src == nil {
		return nil, ErrNoSurface
	}
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidDimensions
	}

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrNoSurface
	}

	if bounds.Dx() != width || bounds.Dy() != height {
		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, bounds, xdraw.Src, nil)
		src = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("encoder: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
