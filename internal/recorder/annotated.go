package recorder

import (
	"github.com/railvision/wagon-capture/internal/overlay"
	"github.com/railvision/wagon-capture/pkg/types"
)

// Annotated draws each frame's detections on a copy before passing it on.
// The input frame is never modified.
type Annotated struct {
	Sink Sink
}

func (a *Annotated) WriteRecord(rec types.FrameRecord) error {
	if rec.Frame == nil || len(rec.Detections) == 0 {
		return a.Sink.WriteFrame(rec.Frame)
	}
	drawn := &types.Frame{
		Index:     rec.Frame.Index,
		Timestamp: rec.Frame.Timestamp,
		Image:     overlay.Draw(rec.Frame.Image, rec.Detections),
	}
	return a.Sink.WriteFrame(drawn)
}

// WriteFrame writes frame without annotations.
func (a *Annotated) WriteFrame(frame *types.Frame) error {
	return a.Sink.WriteFrame(frame)
}

func (a *Annotated) Close() error {
	return a.Sink.Close()
}
