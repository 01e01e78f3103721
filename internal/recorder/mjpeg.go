package recorder

import (
	"bufio"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/railvision/wagon-capture/pkg/types"
)

// MJPEG writes frames as a stream of concatenated JPEG images.
type MJPEG struct {
	mu           sync.RWMutex
	file         *os.File
	buf          *bufio.Writer
	filename     string
	quality      int
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time
	stopTime     time.Time
}

// NewMJPEG creates path and starts recording into it.
func NewMJPEG(path string, quality int) (*MJPEG, error) {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &MJPEG{
		file:      file,
		buf:       bufio.NewWriterSize(file, 256<<10),
		filename:  filepath.Base(path),
		quality:   quality,
		recording: true,
		startTime: time.Now(),
	}, nil
}

// WriteFrame encodes frame and appends it to the stream.
func (r *MJPEG) WriteFrame(frame *types.Frame) error {
	if frame == nil || frame.Image == nil {
		return fmt.Errorf("empty frame")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return fmt.Errorf("not recording")
	}

	cw := &countingWriter{w: r.buf}
	if err := jpeg.Encode(cw, frame.Image, &jpeg.Options{Quality: r.quality}); err != nil {
		return fmt.Errorf("write frame %d: %w", frame.Index, err)
	}
	r.bytesWritten += cw.n
	r.frameCount++
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (r *MJPEG) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil
	}
	r.recording = false
	r.stopTime = time.Now()

	if err := r.buf.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// GetStatus returns the current recording status
func (r *MJPEG) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		DurationMs:   elapsed(r.recording, r.startTime, r.stopTime),
		StartTime:    r.startTime,
	}
}

type countingWriter struct {
	w interface{ Write([]byte) (int, error) }
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}
