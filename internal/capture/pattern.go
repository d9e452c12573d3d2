package capture

import (
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/pitchsight/console/pkg/types"
)

// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// PatternSource synthesizes color-bar test frames. It stands in for a
// camera when exercising the pipeline without hardware.
type PatternSource struct {
	mu     sync.Mutex
	width  int
	height int
	seq    uint64
	closed bool
	now    func() time.Time
}

// NewPatternSource creates a test-pattern source of the given size.
func NewPatternSource(width, height int) *PatternSource {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &PatternSource{width: width, height: height, now: time.Now}
}

// Next renders the next color-bar frame. A thin scanline band moves
// with the sequence number so consecutive frames differ.
func (p *PatternSource) Next() (*types.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrSourceClosed
	}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := p.width / len(barColors)
	if barWidth < 1 {
		barWidth = 1
	}

	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			barIndex := x / barWidth
			if barIndex >= len(barColors) {
				barIndex = len(barColors) - 1
			}
			img.Set(x, y, barColors[barIndex])
		}
	}

	// Moving band keyed to the sequence number.
	band := int(p.seq) % p.height
	for x := 0; x < p.width; x++ {
		img.Set(x, band, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	}

	frame := &types.Frame{
		Image:     img,
		Timestamp: p.now(),
		Seq:       p.seq,
		Width:     p.width,
		Height:    p.height,
	}
	p.seq++
	return frame, nil
}

// Close marks the source closed. Idempotent.
func (p *PatternSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
