package pipeline

import "math"

// Damper applies velocity-proportional opposing torque. With
// SpeedAdaptive, the effective coefficient scales up with |wheel_speed|.
type Damper struct {
	Gain          float32
	SpeedAdaptive bool
	AdaptRate     float32
}

func (d *Damper) Process(f *Frame) error {
	speed := f.WheelSpeed
	gain := d.Gain
	if d.SpeedAdaptive {
		gain *= 1 + d.AdaptRate*float32(math.Abs(float64(speed)))
	}
	f.TorqueOut += -gain * speed
	return nil
}
