// Package jobs runs capture passes off the request path on a bounded worker
// pool and tracks their state.
package jobs

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrClosed      = errors.New("job manager is shut down")
	ErrNotFinished = errors.New("job has not finished")
	ErrNoCapture   = errors.New("capture index out of range")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusProgress Status = "PROGRESS"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
)

// Terminal reports whether no further updates follow.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Progress milestones, in percent.
const (
	percentStarted  = 5
	percentDetected = 90
	percentEncoding = 95
	percentDone     = 100
)

// Request asks for one capture run.
type Request struct {
	VideoPath string `json:"video_path"`
	SaveVideo bool   `json:"save_video"`
}

// Job is a point-in-time view of a submitted run.
type Job struct {
	ID           string    `json:"job_id"`
	VideoPath    string    `json:"video_path"`
	SaveVideo    bool      `json:"save_video"`
	Status       Status    `json:"status"`
	Percent      int       `json:"percent"`
	Message      string    `json:"message,omitempty"`
	Processed    int       `json:"processed"`
	Total        int       `json:"total"`
	CaptureCount int       `json:"capture_count"`
	CaptureFiles []string  `json:"capture_files,omitempty"`
	VideoOutput  string    `json:"video_output,omitempty"`
	VideoFrames  uint64    `json:"video_frames,omitempty"`
	VideoBytes   uint64    `json:"video_bytes,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

func (j Job) eventFields() map[string]any {
	fields := map[string]any{
		"job_id":        j.ID,
		"status":        string(j.Status),
		"percent":       j.Percent,
		"processed":     j.Processed,
		"total":         j.Total,
		"capture_count": j.CaptureCount,
	}
	if j.Message != "" {
		fields["message"] = j.Message
	}
	if j.Error != "" {
		fields["error"] = j.Error
	}
	if j.VideoOutput != "" {
		fields["video_output"] = j.VideoOutput
		fields["video_frames"] = j.VideoFrames
		fields["video_bytes"] = j.VideoBytes
	}
	return fields
}
