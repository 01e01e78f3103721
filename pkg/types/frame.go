package types

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one decoded video frame with its position in the stream.
// Frames are treated as immutable once produced by a source.
type Frame struct {
	Index     uint64        // Sequential frame number, starting at 0
	Timestamp time.Duration // Presentation time relative to stream start
	Image     image.Image   // Decoded pixels
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Clone returns a deep copy of the frame. The pixels are copied into a new
// RGBA buffer so the copy stays valid after the source reuses its buffers.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{Index: f.Index, Timestamp: f.Timestamp}
	if f.Image != nil {
		b := f.Image.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), f.Image, b.Min, draw.Src)
		out.Image = rgba
	}
	return out
}

// BBox is an axis-aligned bounding box in pixel coordinates (x1,y1)-(x2,y2).
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Rect converts the box to an integer rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Detection is a single labeled, scored box produced by a detector.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"bbox"`
}

// FrameRecord pairs a frame with the detections that passed the class and
// confidence filter.
type FrameRecord struct {
	Frame      *Frame
	Detections []Detection
}

// Count returns the number of qualifying detections.
func (r FrameRecord) Count() int {
	return len(r.Detections)
}

// CaptureResult holds the frames emitted during a run, in emission order.
type CaptureResult struct {
	Frames []*Frame
	Count  int
}
