package capture

import "github.com/railvision/wagon-capture/pkg/types"

// State is the wagon-pass phase.
type State int

const (
	// Searching waits for a frame with exactly one wagon.
	Searching State = iota
	// Passing tracks a single wagon and keeps the latest delayed frame that
	// also showed exactly one wagon.
	Passing
)

func (s State) String() string {
	switch s {
	case Searching:
		return "SEARCHING"
	case Passing:
		return "PASSING"
	default:
		return "UNKNOWN"
	}
}

// Machine turns per-tick detection counts into one emitted frame per wagon
// passage. The zero value is a Machine in the Searching state.
//
// Step sees the newest count and the oldest record of a full window, so the
// frame it latches lags the current one by the capture delay. A passage ends
// on the first tick whose count is not exactly one; the last latched frame of
// the passage is then emitted.
type Machine struct {
	state     State
	candidate *types.Frame

	passages int
	emitted  int
}

// State returns the current phase.
func (m *Machine) State() State { return m.state }

// Candidate returns the frame that would be emitted if the passage ended now.
func (m *Machine) Candidate() *types.Frame { return m.candidate }

// Passages counts passages started so far.
func (m *Machine) Passages() int { return m.passages }

// Emitted counts frames emitted so far.
func (m *Machine) Emitted() int { return m.emitted }

// Step advances the machine by one tick. current is the detection count of
// the newest frame and oldest is the record that entered the window
// capture-delay ticks earlier. It returns the emitted frame, if any.
func (m *Machine) Step(current int, oldest *types.FrameRecord) *types.Frame {
	switch m.state {
	case Searching:
		if current == 1 {
			m.candidate = nil
			m.state = Passing
			m.passages++
		}
		return nil

	case Passing:
		if current == 1 {
			if oldest != nil && oldest.Count() == 1 {
				m.candidate = oldest.Frame.Clone()
			}
			return nil
		}
		m.state = Searching
		return m.take()
	}
	return nil
}

// Flush ends the stream. A passage still open yields its candidate.
func (m *Machine) Flush() *types.Frame {
	if m.state != Passing {
		return nil
	}
	m.state = Searching
	return m.take()
}

func (m *Machine) take() *types.Frame {
	f := m.candidate
	m.candidate = nil
	if f != nil {
		m.emitted++
	}
	return f
}
