package safety

import (
	"math"
	"time"
)

// SoftStopController ramps torque to zero over DecayDuration once a
// fault is entered. While active it is the clamp's effective ceiling,
// overriding the state machine's nominal max — the one exception to
// the state-based max rule.
type SoftStopController struct {
	DecayDuration time.Duration

	active  bool
	start   float64
	elapsed time.Duration
}

func NewSoftStopController(decay time.Duration) *SoftStopController {
	return &SoftStopController{DecayDuration: decay}
}

// StartSoftStop begins a new ramp from the given torque value,
// overwriting any ramp already in progress.
func (s *SoftStopController) StartSoftStop(currentTorqueNm float64) {
	s.active = true
	s.start = math.Abs(currentTorqueNm)
	s.elapsed = 0
}

// Update advances the ramp by delta and returns the current torque
// ceiling. Once elapsed reaches DecayDuration the ramp terminates at
// zero and Update becomes a no-op until the next StartSoftStop.
func (s *SoftStopController) Update(delta time.Duration) float64 {
	if !s.active {
		return 0
	}
	s.elapsed += delta
	if s.DecayDuration <= 0 || s.elapsed >= s.DecayDuration {
		s.active = false
		return 0
	}
	frac := 1 - float64(s.elapsed)/float64(s.DecayDuration)
	return s.start * frac
}

// ForceStop collapses the ramp immediately.
func (s *SoftStopController) ForceStop() {
	s.active = false
	s.start = 0
	s.elapsed = 0
}

func (s *SoftStopController) IsActive() bool { return s.active }

// current returns the ramp's present ceiling value without advancing
// elapsed time, for use right after StartSoftStop or between ticks.
func (s *SoftStopController) current() float64 {
	if !s.active || s.DecayDuration <= 0 {
		return 0
	}
	frac := 1 - float64(s.elapsed)/float64(s.DecayDuration)
	if frac < 0 {
		frac = 0
	}
	return s.start * frac
}

func (s *SoftStopController) Reset() {
	s.active = false
	s.start = 0
	s.elapsed = 0
}
