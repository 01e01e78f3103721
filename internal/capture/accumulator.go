package capture

import "github.com/railvision/wagon-capture/pkg/types"

// Accumulator collects emitted frames in emission order.
type Accumulator struct {
	frames []*types.Frame
}

// Add appends f. Nil frames are ignored.
func (a *Accumulator) Add(f *types.Frame) {
	if f == nil {
		return
	}
	a.frames = append(a.frames, f)
}

// Len returns the number of frames collected.
func (a *Accumulator) Len() int { return len(a.frames) }

// Result returns the collected frames and their count.
func (a *Accumulator) Result() types.CaptureResult {
	frames := make([]*types.Frame, len(a.frames))
	copy(frames, a.frames)
	return types.CaptureResult{Frames: frames, Count: len(frames)}
}
