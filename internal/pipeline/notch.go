package pipeline

import "math"

// Notch is a biquad notch filter (RBJ audio-EQ-cookbook form) applied
// in place to Frame.TorqueOut, attenuating a configured center
// frequency. Its DC gain is exactly 1 by construction, and it is
// stable (bounded output) for any center frequency below Nyquist and
// Q > 0.
type Notch struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

// NewNotch builds a notch filter centered at centerHz with quality
// factor q, sampled at sampleRateHz (the RT loop's tick rate).
func NewNotch(centerHz, q, sampleRateHz float64) *Notch {
	w0 := 2 * math.Pi * centerHz / sampleRateHz
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	b0, b1, b2 := 1.0, -2*cosw0, 1.0
	a0, a1, a2 := 1+alpha, -2*cosw0, 1-alpha

	return &Notch{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

func (n *Notch) Process(f *Frame) error {
	x0 := float64(f.TorqueOut)
	y0 := n.b0*x0 + n.b1*n.x1 + n.b2*n.x2 - n.a1*n.y1 - n.a2*n.y2

	n.x2, n.x1 = n.x1, x0
	n.y2, n.y1 = n.y1, y0

	f.TorqueOut = float32(y0)
	return nil
}
