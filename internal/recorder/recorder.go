// Package recorder writes the passthrough video: every input frame of a run,
// exactly once, in order.
package recorder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/railvision/wagon-capture/internal/source"
	"github.com/railvision/wagon-capture/pkg/types"
)

// Sink receives every frame of a run.
type Sink interface {
	WriteFrame(frame *types.Frame) error
	Close() error
}

// RecordWriter is implemented by sinks that want the frame's detections too.
type RecordWriter interface {
	WriteRecord(rec types.FrameRecord) error
}

// Write hands rec to s, using WriteRecord when s supports it.
func Write(s Sink, rec types.FrameRecord) error {
	if rw, ok := s.(RecordWriter); ok {
		return rw.WriteRecord(rec)
	}
	return s.WriteFrame(rec.Frame)
}

// Status holds the current recording status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}

// StatusReporter is implemented by sinks that track what they wrote.
type StatusReporter interface {
	GetStatus() Status
}

// StatusOf returns the status of s, looking through an Annotated wrapper.
func StatusOf(s Sink) (Status, bool) {
	if a, ok := s.(*Annotated); ok {
		s = a.Sink
	}
	if sr, ok := s.(StatusReporter); ok {
		return sr.GetStatus(), true
	}
	return Status{}, false
}

// elapsed is the recording time so far, or the final length once stopped.
func elapsed(recording bool, start, stop time.Time) int64 {
	if recording {
		return time.Since(start).Milliseconds()
	}
	if stop.IsZero() {
		return 0
	}
	return stop.Sub(start).Milliseconds()
}

// Options control Open.
type Options struct {
	JPEGQuality int
	Annotate    bool
	FourCC      string
}

// Open creates a sink for path. .mjpeg and .mjpg files are written as a
// concatenated JPEG stream; other extensions need the opencv build.
func Open(path string, info source.Info, opts Options) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mjpeg", ".mjpg":
		sink, err = NewMJPEG(path, opts.JPEGQuality)
	case "":
		return nil, fmt.Errorf("output video %q has no extension", path)
	default:
		sink, err = OpenVideo(path, info, opts.FourCC)
	}
	if err != nil {
		return nil, err
	}
	if opts.Annotate {
		return &Annotated{Sink: sink}, nil
	}
	return sink, nil
}
