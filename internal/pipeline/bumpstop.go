package pipeline

import "math"

// BumpStop is a progressive spring that is silent while the integrated
// wheel angle stays within [RangeMin, RangeMax] and grows with
// penetration depth beyond that range. Disabled is a no-op, per spec.
type BumpStop struct {
	RangeMin           float32 // radians
	RangeMax           float32
	SpringGain         float32
	ProgressiveExponent float32 // >= 1; 1 = linear spring
	Disabled           bool
	TickPeriodSecs     float32

	angle float32
}

func (b *BumpStop) Process(f *Frame) error {
	period := b.TickPeriodSecs
	if period <= 0 {
		period = 0.001
	}
	b.angle += f.WheelSpeed * period

	if b.Disabled {
		return nil
	}

	exp := b.ProgressiveExponent
	if exp < 1 {
		exp = 1
	}

	switch {
	case b.angle > b.RangeMax:
		penetration := b.angle - b.RangeMax
		f.TorqueOut += -b.SpringGain * float32(math.Pow(float64(penetration), float64(exp)))
	case b.angle < b.RangeMin:
		penetration := b.RangeMin - b.angle
		f.TorqueOut += b.SpringGain * float32(math.Pow(float64(penetration), float64(exp)))
	}
	return nil
}
