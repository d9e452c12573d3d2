package types

// JobStatus is the four-state job lifecycle reported by the backend.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further status transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// NormalizeJobStatus folds the naming variants seen across backend
// call sites ("done", "error", "processing") into the four canonical
// states. Unknown strings map to pending.
func NormalizeJobStatus(raw string) JobStatus {
	switch raw {
	case "completed", "complete", "done":
		return JobCompleted
	case "failed", "error":
		return JobFailed
	case "running", "processing", "in_progress":
		return JobRunning
	default:
		return JobPending
	}
}

// FrameResult is one precomputed per-frame result in a video job payload.
type FrameResult struct {
	FrameIndex int         `json:"frame_index"`
	Detections []Detection `json:"detections"`
}

// VideoResults is the completed-job payload for video inputs.
type VideoResults struct {
	TotalFrames int           `json:"total_frames"`
	Frames      []FrameResult `json:"frames"`
}

// JobState is one polled snapshot of a job.
type JobState struct {
	JobID   string        `json:"job_id"`
	Status  JobStatus     `json:"status"`
	Message string        `json:"message,omitempty"`
	Video   *VideoResults `json:"video,omitempty"`      // Populated on completion for video inputs
	Image   []Detection   `json:"detections,omitempty"` // Populated on completion for image inputs
}
