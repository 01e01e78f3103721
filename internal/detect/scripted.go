package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/railvision/wagon-capture/pkg/types"
)

// Scripted replays a fixed number of target-class detections per frame. It
// lets the capture logic run without a model.
type Scripted struct {
	ClassID int
	Counts  []int // detections to return for frame i; frames past the end get 0

	// FailAt makes Detect fail on the given frame index when set.
	FailAt *uint64

	mu    sync.Mutex
	calls int
}

// NewScripted returns a Scripted detector for classID with the given counts.
func NewScripted(classID int, counts ...int) *Scripted {
	return &Scripted{ClassID: classID, Counts: counts}
}

func (s *Scripted) Detect(_ context.Context, frame *types.Frame) ([]types.Detection, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.FailAt != nil && frame.Index == *s.FailAt {
		return nil, fmt.Errorf("scripted failure at frame %d", frame.Index)
	}

	n := 0
	if frame.Index < uint64(len(s.Counts)) {
		n = s.Counts[frame.Index]
	}
	dets := make([]types.Detection, n)
	for i := range dets {
		x := float64(i * 100)
		dets[i] = types.Detection{
			ClassID:    s.ClassID,
			Confidence: 0.9,
			Box:        types.BBox{X1: x, Y1: 0, X2: x + 80, Y2: 60},
		}
	}
	return dets, nil
}

// Calls returns how many times Detect was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
