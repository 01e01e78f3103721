// Package source provides forward-only frame sources: decoded video files and
// directories of still images.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/railvision/wagon-capture/pkg/types"
)

// Info describes a stream. TotalFrames is 0 when the container does not
// report a reliable count.
type Info struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
}

// Source yields frames in order. Next returns io.EOF after the last frame.
type Source interface {
	Next(ctx context.Context) (*types.Frame, error)
	Info() Info
	Close() error
}

// Options tune how a path is opened.
type Options struct {
	// SequenceFPS is the frame rate assigned to image sequences.
	SequenceFPS float64
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{SequenceFPS: 25}
}

// Open opens path as an image sequence when it is a directory and as a video
// file otherwise.
func Open(path string, opts Options) (Source, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if st.IsDir() {
		return OpenSequence(path, opts.SequenceFPS)
	}
	return OpenVideo(path)
}

// Frames is an in-memory source over pre-built frames.
type Frames struct {
	frames []*types.Frame
	info   Info
	next   int
	closed bool
}

// FromFrames returns a source yielding frames in order. The reported total is
// len(frames) unless hideTotal is set.
func FromFrames(frames []*types.Frame, fps float64, hideTotal bool) *Frames {
	info := Info{FPS: fps}
	if !hideTotal {
		info.TotalFrames = len(frames)
	}
	if len(frames) > 0 {
		info.Width, info.Height = frames[0].Width(), frames[0].Height()
	}
	return &Frames{frames: frames, info: info}
}

func (s *Frames) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("source closed")
	}
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *Frames) Info() Info { return s.info }

func (s *Frames) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Frames) Closed() bool { return s.closed }

func frameTime(index int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(index) / fps * float64(time.Second))
}
