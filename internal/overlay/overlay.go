// Package overlay paints detection results onto a canvas aligned to
// the source frame's pixel coordinates. Rendering is stateless: each
// call works only from its arguments.
package overlay

import (
	"fmt"
	"hash/fnv"
	"image/color"

	"github.com/pitchsight/console/pkg/types"
)

// Toggles controls which visual categories are drawn. A disabled
// category contributes zero draw calls.
type Toggles struct {
	Players    bool
	Tracking   bool
	Ball       bool
	PitchLines bool
	Radar      bool
}

// AllToggles enables every category.
func AllToggles() Toggles {
	return Toggles{Players: true, Tracking: true, Ball: true, PitchLines: true, Radar: true}
}

const (
	boxThickness     = 2
	cornerMarkerSize = 6
	ballRadius       = 6
	lineThickness    = 2
	radarSquareSize  = 4
	// The radar inset occupies this fraction of the canvas, anchored
	// at the bottom-right corner. Radar points are normalized [0,1].
	radarInsetFraction = 4
)

var (
	ballColor  = color.RGBA{R: 255, G: 215, B: 0, A: 255}
	pitchColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	radarColor = color.RGBA{R: 0, G: 200, B: 255, A: 255}
	trackColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Deterministic per-class palette; unknown classes hash into it.
var classPalette = []color.RGBA{
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 80, B: 80, A: 255},
	{R: 80, G: 160, B: 255, A: 255},
	{R: 255, G: 160, B: 0, A: 255},
	{R: 200, G: 80, B: 255, A: 255},
	{R: 0, G: 220, B: 180, A: 255},
}

// ClassColor returns the stable color for a detection class.
func ClassColor(className string) color.RGBA {
	if className == "" {
		return classPalette[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(className))
	return classPalette[h.Sum32()%uint32(len(classPalette))]
}

// Render resizes and clears the canvas, then draws the enabled
// categories of the result. A nil result leaves the canvas blank.
// All coordinates are in the source frame's pixel space.
func Render(canvas Canvas, width, height int, result *types.DetectionResult, toggles Toggles) {
	canvas.Resize(width, height)
	canvas.Clear()

	if result == nil {
		return
	}

	if toggles.Players {
		for _, det := range result.Detections {
			drawDetection(canvas, det)
		}
	}

	if toggles.Tracking {
		for _, det := range result.Detections {
			if det.TrackID == nil {
				continue
			}
			box := det.BBox
			canvas.Label(box.X+box.W-24, box.Y-6, fmt.Sprintf("#%d", *det.TrackID), trackColor)
		}
	}

	if toggles.Ball && result.Ball != nil {
		canvas.FillCircle(result.Ball.X, result.Ball.Y, ballRadius, ballColor)
	}

	if toggles.PitchLines {
		for _, seg := range result.PitchLines {
			canvas.Line(seg.X1, seg.Y1, seg.X2, seg.Y2, pitchColor, lineThickness)
		}
	}

	if toggles.Radar {
		drawRadar(canvas, width, height, result.Radar)
	}
}

func drawDetection(canvas Canvas, det types.Detection) {
	col := ClassColor(det.ClassName)
	box := det.BBox

	canvas.StrokeRect(box.X, box.Y, box.W, box.H, col, boxThickness)
	drawCornerMarkers(canvas, box, col)

	label := det.ClassName
	if det.Confidence > 0 {
		label = fmt.Sprintf("%s %.0f%%", det.ClassName, det.Confidence*100)
	}
	if label != "" {
		labelY := box.Y - 6
		if labelY < 12 {
			labelY = box.Y + box.H + 14
		}
		canvas.Label(box.X, labelY, label, col)
	}
}

func drawCornerMarkers(canvas Canvas, box types.BoundingBox, col color.RGBA) {
	s := cornerMarkerSize
	corners := [4][2]int{
		{box.X, box.Y},
		{box.X + box.W - s, box.Y},
		{box.X, box.Y + box.H - s},
		{box.X + box.W - s, box.Y + box.H - s},
	}
	for _, corner := range corners {
		canvas.FillRect(corner[0], corner[1], s, s, col)
	}
}

// drawRadar scales normalized radar positions into a bottom-right
// corner inset and draws one small square per point.
func drawRadar(canvas Canvas, width, height int, points []types.Point) {
	if len(points) == 0 {
		return
	}

	insetW := width / radarInsetFraction
	insetH := height / radarInsetFraction
	insetX := width - insetW
	insetY := height - insetH

	for _, p := range points {
		x := insetX + int(p.X*float64(insetW))
		y := insetY + int(p.Y*float64(insetH))
		canvas.FillRect(x, y, radarSquareSize, radarSquareSize, radarColor)
	}
}
