package input

import "sync/atomic"

// Mode is the interaction mode of a view.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeEdit

	modeCount = 2
)

func (m Mode) String() string {
	switch m {
	case ModeEdit:
		return "edit"
	default:
		return "idle"
	}
}

// ModeState cycles between idle and edit.
type ModeState struct {
	value atomic.Int32
}

// Current returns the active mode.
func (s *ModeState) Current() Mode {
	return Mode(s.value.Load())
}

// Toggle advances to the next mode and returns it.
func (s *ModeState) Toggle() Mode {
	for {
		current := s.value.Load()
		next := (current + 1) % modeCount
		if s.value.CompareAndSwap(current, next) {
			return Mode(next)
		}
	}
}
