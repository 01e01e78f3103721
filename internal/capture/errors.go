package capture

import "fmt"

// SourceOpenError reports that the input stream could not be opened.
type SourceOpenError struct {
	Err error
}

func (e *SourceOpenError) Error() string { return fmt.Sprintf("open source: %v", e.Err) }
func (e *SourceOpenError) Unwrap() error { return e.Err }

// SourceReadError reports a failure reading a frame mid-stream.
type SourceReadError struct {
	FrameIndex int
	Err        error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read frame %d: %v", e.FrameIndex, e.Err)
}
func (e *SourceReadError) Unwrap() error { return e.Err }

// SinkWriteError reports that the passthrough video could not be created,
// written or finalized.
type SinkWriteError struct {
	Op         string // "open", "write" or "close"
	FrameIndex int
	Err        error
}

func (e *SinkWriteError) Error() string {
	if e.Op == "write" {
		return fmt.Sprintf("passthrough write frame %d: %v", e.FrameIndex, e.Err)
	}
	return fmt.Sprintf("passthrough %s: %v", e.Op, e.Err)
}
func (e *SinkWriteError) Unwrap() error { return e.Err }

// RunError wraps any fatal condition together with how far the run got.
type RunError struct {
	Processed int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("capture run aborted after %d frames: %v", e.Processed, e.Err)
}
func (e *RunError) Unwrap() error { return e.Err }
