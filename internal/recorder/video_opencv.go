//go:build opencv

package recorder

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/railvision/wagon-capture/internal/source"
	"github.com/railvision/wagon-capture/pkg/types"
)

// Video encodes frames into a container through OpenCV.
type Video struct {
	mu         sync.RWMutex
	writer     *gocv.VideoWriter
	filename   string
	width      int
	height     int
	recording  bool
	frameCount uint64
	startTime  time.Time
	stopTime   time.Time
}

// OpenVideo creates a video writer at the source's size and frame rate.
func OpenVideo(path string, info source.Info, fourcc string) (Sink, error) {
	if fourcc == "" {
		fourcc = "mp4v"
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}
	fps := info.FPS
	if fps <= 0 {
		fps = 25
	}

	w, err := gocv.VideoWriterFile(path, fourcc, fps, info.Width, info.Height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer for %s did not open", path)
	}

	return &Video{
		writer:    w,
		filename:  filepath.Base(path),
		width:     info.Width,
		height:    info.Height,
		recording: true,
		startTime: time.Now(),
	}, nil
}

func (v *Video) WriteFrame(frame *types.Frame) error {
	if frame == nil || frame.Image == nil {
		return fmt.Errorf("empty frame")
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return fmt.Errorf("convert frame %d: %w", frame.Index, err)
	}
	defer mat.Close()

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.recording {
		return fmt.Errorf("not recording")
	}
	if mat.Cols() != v.width || mat.Rows() != v.height {
		return fmt.Errorf("frame %d is %dx%d, writer expects %dx%d", frame.Index, mat.Cols(), mat.Rows(), v.width, v.height)
	}
	if err := v.writer.Write(mat); err != nil {
		return fmt.Errorf("write frame %d: %w", frame.Index, err)
	}
	v.frameCount++
	return nil
}

func (v *Video) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.recording {
		return nil
	}
	v.recording = false
	v.stopTime = time.Now()
	return v.writer.Close()
}

// GetStatus returns the current recording status
func (v *Video) GetStatus() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return Status{
		Recording:  v.recording,
		Filename:   v.filename,
		FrameCount: v.frameCount,
		DurationMs: elapsed(v.recording, v.startTime, v.stopTime),
		StartTime:  v.startTime,
	}
}
