package types

// BoundingBox is a detection rectangle in the source frame's pixel space.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is a single detected object within one frame.
type Detection struct {
	ClassName  string      `json:"class_name,omitempty"`
	Confidence float64     `json:"confidence,omitempty"` // [0,1], 0 when absent
	BBox       BoundingBox `json:"bbox"`
	TrackID    *int        `json:"track_id,omitempty"` // Stable across frames for one object
}

// Point is a pixel-space position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Segment is one pitch-geometry line segment.
type Segment struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BallMarker is the special ball position marker.
type BallMarker struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectionResult is one processed frame's worth of server output.
// Coordinates are in the original frame's pixel space.
type DetectionResult struct {
	FrameIndex int         `json:"frame_index"`
	Dropped    bool        `json:"dropped,omitempty"` // Server declined to process this frame
	Detections []Detection `json:"detections"`
	Ball       *BallMarker `json:"ball,omitempty"`
	PitchLines []Segment   `json:"pitch_lines,omitempty"`
	Radar      []Point     `json:"radar,omitempty"`
}
