package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Canvas is the drawing surface abstraction the renderer paints on.
// The image-backed implementation below draws on a pixel buffer; test
// code substitutes a recording implementation to intercept draw calls.
type Canvas interface {
	// Resize sets the pixel buffer dimensions, discarding contents.
	Resize(width, height int)
	// Clear erases the buffer to transparent.
	Clear()
	// StrokeRect outlines a rectangle with the given line thickness.
	StrokeRect(x, y, w, h int, c color.RGBA, thickness int)
	// FillRect fills a rectangle (corner markers, radar squares).
	FillRect(x, y, w, h int, c color.RGBA)
	// Line draws one line segment.
	Line(x1, y1, x2, y2 float64, c color.RGBA, thickness int)
	// FillCircle fills a circle centered at (cx, cy).
	FillCircle(cx, cy float64, r int, c color.RGBA)
	// Label draws text with its baseline anchored at (x, y).
	Label(x, y int, text string, c color.RGBA)
}

// ImageCanvas draws onto an in-memory RGBA buffer. Coordinates are in
// the buffer's own pixel space; layout scaling is the caller's concern.
type ImageCanvas struct {
	img *image.RGBA
}

// NewImageCanvas creates a canvas with the given initial dimensions.
func NewImageCanvas(width, height int) *ImageCanvas {
	return &ImageCanvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Image returns the underlying buffer.
func (c *ImageCanvas) Image() *image.RGBA { return c.img }

// Resize reallocates the buffer when dimensions change.
func (c *ImageCanvas) Resize(width, height int) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	bounds := c.img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return
	}
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Clear erases the buffer.
func (c *ImageCanvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// StrokeRect outlines a rectangle.
func (c *ImageCanvas) StrokeRect(x, y, w, h int, col color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	for t := 0; t < thickness; t++ {
		c.hline(x-t, x+w+t, y-t, col)
		c.hline(x-t, x+w+t, y+h+t, col)
		c.vline(y-t, y+h+t, x-t, col)
		c.vline(y-t, y+h+t, x+w+t, col)
	}
}

// FillRect fills a rectangle.
func (c *ImageCanvas) FillRect(x, y, w, h int, col color.RGBA) {
	rect := image.Rect(x, y, x+w, y+h).Intersect(c.img.Bounds())
	draw.Draw(c.img, rect, image.NewUniform(col), image.Point{}, draw.Src)
}

// Line draws a segment with a simple DDA walk.
func (c *ImageCanvas) Line(x1, y1, x2, y2 float64, col color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	dx := x2 - x1
	dy := y2 - y1
	steps := maxFloat(absFloat(dx), absFloat(dy))
	if steps < 1 {
		steps = 1
	}
	stepX := dx / steps
	stepY := dy / steps

	x, y := x1, y1
	for i := 0.0; i <= steps; i++ {
		for ox := 0; ox < thickness; ox++ {
			for oy := 0; oy < thickness; oy++ {
				c.setPixel(int(x)+ox, int(y)+oy, col)
			}
		}
		x += stepX
		y += stepY
	}
}

// FillCircle fills a circle.
func (c *ImageCanvas) FillCircle(cx, cy float64, r int, col color.RGBA) {
	if r < 1 {
		r = 1
	}
	rr := r * r
	for oy := -r; oy <= r; oy++ {
		for ox := -r; ox <= r; ox++ {
			if ox*ox+oy*oy <= rr {
				c.setPixel(int(cx)+ox, int(cy)+oy, col)
			}
		}
	}
}

// Label draws text with the fixed 7x13 basic font.
func (c *ImageCanvas) Label(x, y int, text string, col color.RGBA) {
	drawer := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}

func (c *ImageCanvas) hline(x1, x2, y int, col color.RGBA) {
	for x := x1; x <= x2; x++ {
		c.setPixel(x, y, col)
	}
}

func (c *ImageCanvas) vline(y1, y2, x int, col color.RGBA) {
	for y := y1; y <= y2; y++ {
		c.setPixel(x, y, col)
	}
}

func (c *ImageCanvas) setPixel(x, y int, col color.RGBA) {
	if (image.Point{X: x, Y: y}).In(c.img.Bounds()) {
		c.img.SetRGBA(x, y, col)
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
