package logic

import "time"

// Mode is the operating mode selected with buttons 1 and 2.
type Mode int

const (
	MinMode Mode = 1
	MaxMode Mode = 5
)

// Clamp limits m to [MinMode, MaxMode].
func (m Mode) Clamp() Mode {
	if m < MinMode {
		return MinMode
	}
	if m > MaxMode {
		return MaxMode
	}
	return m
}

// Inc returns the next mode, saturating at MaxMode.
func (m Mode) Inc() Mode {
	return (m + 1).Clamp()
}

// Dec returns the previous mode, saturating at MinMode.
func (m Mode) Dec() Mode {
	return (m - 1).Clamp()
}

// ChaseTick is the base period of the chase sequencer.
const ChaseTick = 62500 * time.Microsecond

// ChaseDivisor is the number of chase ticks per LED step in mode m:
// 16, 8, 4, 2, 1 for modes 1 through 5.
func (m Mode) ChaseDivisor() int {
	return 16 >> (int(m.Clamp()) - 1)
}

// ChasePeriod is the time one LED stays lit in mode m.
func (m Mode) ChasePeriod() time.Duration {
	return time.Duration(m.ChaseDivisor()) * ChaseTick
}
