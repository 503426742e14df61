package pipeline

import "math"

// SlewRate limits the per-tick change of Frame.TorqueOut to
// MaxSlewPerSec * TickPeriodSecs.
type SlewRate struct {
	MaxSlewPerSec  float32
	TickPeriodSecs float32

	havePrev bool
	prev     float32
}

func (s *SlewRate) Process(f *Frame) error {
	if !s.havePrev {
		s.prev = f.TorqueOut
		s.havePrev = true
		return nil
	}
	period := s.TickPeriodSecs
	if period <= 0 {
		period = 0.001
	}
	limit := s.MaxSlewPerSec * period
	delta := f.TorqueOut - s.prev
	if float32(math.Abs(float64(delta))) > limit {
		if delta > 0 {
			delta = limit
		} else {
			delta = -limit
		}
		f.TorqueOut = s.prev + delta
	}
	s.prev = f.TorqueOut
	return nil
}
