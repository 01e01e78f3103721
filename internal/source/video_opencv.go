//go:build opencv

package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"gocv.io/x/gocv"

	"github.com/railvision/wagon-capture/pkg/types"
)

// Video decodes a video file through OpenCV.
type Video struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	info    Info
	next    uint64
}

// OpenVideo opens a video file for decoding.
func OpenVideo(path string) (Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("could not open video file %s", path)
	}

	total := int(capture.Get(gocv.VideoCaptureFrameCount))
	if total < 0 {
		total = 0
	}

	return &Video{
		capture: capture,
		mat:     gocv.NewMat(),
		info: Info{
			Width:       int(capture.Get(gocv.VideoCaptureFrameWidth)),
			Height:      int(capture.Get(gocv.VideoCaptureFrameHeight)),
			FPS:         capture.Get(gocv.VideoCaptureFPS),
			TotalFrames: total,
		},
	}, nil
}

func (v *Video) Next(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := v.capture.Read(&v.mat); !ok || v.mat.Empty() {
		return nil, io.EOF
	}

	pos := time.Duration(v.capture.Get(gocv.VideoCapturePosMsec) * float64(time.Millisecond))

	// ToImage copies the pixels, so the Mat can be reused for the next read.
	img, err := v.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame %d: %w", v.next, err)
	}

	frame := &types.Frame{Index: v.next, Timestamp: pos, Image: img}
	v.next++
	return frame, nil
}

func (v *Video) Info() Info { return v.info }

func (v *Video) Close() error {
	v.mat.Close()
	return v.capture.Close()
}
