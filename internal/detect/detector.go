// Package detect wraps object detectors behind a single-method interface and
// reduces their output to the detections of one target class.
package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/railvision/wagon-capture/pkg/types"
)

// Detector maps a frame to labeled, scored boxes. Implementations must not
// modify the frame.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame *types.Frame) ([]types.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	return f(ctx, frame)
}

// DetectionError reports that the detector failed on a frame.
type DetectionError struct {
	FrameIndex uint64
	Err        error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed on frame %d: %v", e.FrameIndex, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Filter selects detections of one class at or above a confidence threshold.
type Filter struct {
	ClassID       int
	MinConfidence float64
}

// Keep reports whether d passes the filter.
func (f Filter) Keep(d types.Detection) bool {
	return d.ClassID == f.ClassID && d.Confidence >= f.MinConfidence
}

// Apply returns the detections that pass the filter, preserving order.
func (f Filter) Apply(dets []types.Detection) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if f.Keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// Adapter runs a detector and produces filtered frame records.
type Adapter struct {
	Detector Detector
	Filter   Filter
}

// Record detects objects on frame and pairs it with the qualifying detections.
func (a *Adapter) Record(ctx context.Context, frame *types.Frame) (types.FrameRecord, error) {
	dets, err := a.Detector.Detect(ctx, frame)
	if err != nil {
		return types.FrameRecord{}, &DetectionError{FrameIndex: frame.Index, Err: err}
	}
	return types.FrameRecord{Frame: frame, Detections: a.Filter.Apply(dets)}, nil
}

// Serialized guards a detector that is not safe for concurrent use.
type Serialized struct {
	mu sync.Mutex
	d  Detector
}

// NewSerialized wraps d so that at most one Detect call runs at a time.
func NewSerialized(d Detector) *Serialized {
	return &Serialized{d: d}
}

func (s *Serialized) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Detect(ctx, frame)
}
