// Package replay correlates playback position with precomputed
// per-frame detection results for recorded media. The media element
// owns time; this package owns the time<->frame-index mapping and
// random access into the result set.
package replay

import (
	"math"
	"time"

	"github.com/pitchsight/console/pkg/types"
)

// Timeline maps playback time to frame indices for one completed
// video job. A Timeline only exists for media with at least one
// frame; see New.
type Timeline struct {
	totalFrames int
	duration    time.Duration
	byIndex     map[int]*types.FrameResult
}

// New builds a Timeline from a completed video payload and the media
// duration. It returns nil when the payload has no frames or the
// duration is not positive: no frames means no timeline, and callers
// render without overlays.
func New(results *types.VideoResults, duration time.Duration) *Timeline {
	if results == nil || results.TotalFrames <= 0 || duration <= 0 {
		return nil
	}

	byIndex := make(map[int]*types.FrameResult, len(results.Frames))
	for i := range results.Frames {
		frame := &results.Frames[i]
		byIndex[frame.FrameIndex] = frame
	}

	return &Timeline{
		totalFrames: results.TotalFrames,
		duration:    duration,
		byIndex:     byIndex,
	}
}

// TotalFrames returns the frame count of the underlying media.
func (t *Timeline) TotalFrames() int {
	return t.totalFrames
}

// Duration returns the media duration the timeline was built with.
func (t *Timeline) Duration() time.Duration {
	return t.duration
}

// IndexAt maps a playback position to a frame index:
// floor((position/duration) * totalFrames), clamped to the valid
// range. Positions outside [0, duration] clamp rather than error so
// scrub overshoot and end-of-media ticks stay renderable.
func (t *Timeline) IndexAt(position time.Duration) int {
	if position <= 0 {
		return 0
	}
	ratio := float64(position) / float64(t.duration)
	index := int(math.Floor(ratio * float64(t.totalFrames)))
	if index < 0 {
		return 0
	}
	if index >= t.totalFrames {
		return t.totalFrames - 1
	}
	return index
}

// TimeAt is the inverse mapping: a playback position inside the given
// frame's interval. It targets the interval midpoint rather than the
// leading edge so duration truncation cannot land the position in the
// previous frame; IndexAt(TimeAt(i)) == i for every valid index.
func (t *Timeline) TimeAt(index int) time.Duration {
	if index < 0 {
		index = 0
	}
	if index >= t.totalFrames {
		index = t.totalFrames - 1
	}
	ratio := (float64(index) + 0.5) / float64(t.totalFrames)
	return time.Duration(ratio * float64(t.duration))
}

// ResultAt returns the precomputed result for a frame index, or nil
// when the payload carried no entry for it (sparse result sets are
// legal; missing frames simply render without overlays).
func (t *Timeline) ResultAt(index int) *types.FrameResult {
	return t.byIndex[index]
}

// ResultForTime combines IndexAt and ResultAt for the common
// per-render-tick lookup.
func (t *Timeline) ResultForTime(position time.Duration) *types.FrameResult {
	return t.ResultAt(t.IndexAt(position))
}
