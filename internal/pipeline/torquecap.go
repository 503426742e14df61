package pipeline

import "math"

// TorqueCap is the final saturation stage: after it runs,
// Frame.TorqueOut is guaranteed finite and within [-Limit, Limit].
type TorqueCap struct {
	Limit float32
}

func (t *TorqueCap) Process(f *Frame) error {
	v := f.TorqueOut
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		f.TorqueOut = 0
		return nil
	}
	limit := float32(math.Abs(float64(t.Limit)))
	if v > limit {
		v = limit
	}
	if v < -limit {
		v = -limit
	}
	f.TorqueOut = v
	return nil
}
