package pipeline

import "math"

// Friction opposes wheel motion: contribution is
// -sign(wheel_speed) * gain * f(|wheel_speed|), zero at zero speed.
// With SpeedAdaptive, f decreases as |wheel_speed| increases (friction
// fades out at speed so it doesn't fight fast maneuvers); otherwise f
// is constant 1.
type Friction struct {
	Gain          float32
	SpeedAdaptive bool
	AdaptRate     float32 // higher = faster fade-out with speed
}

func (fr *Friction) Process(f *Frame) error {
	speed := f.WheelSpeed
	if speed == 0 {
		return nil
	}
	mag := float32(math.Abs(float64(speed)))
	shape := float32(1)
	if fr.SpeedAdaptive {
		shape = 1 / (1 + fr.AdaptRate*mag)
	}
	contribution := -sign(speed) * fr.Gain * shape
	f.TorqueOut += contribution
	return nil
}

func sign(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
