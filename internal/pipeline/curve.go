package pipeline

import "math"

// CurvePoint is one knot of a piecewise-linear lookup table, mapping an
// input magnitude to an output magnitude.
type CurvePoint struct {
	X, Y float32
}

// Curve maps |Frame.TorqueOut| through a piecewise-linear table and
// restores the original sign. Inputs outside the table's domain clamp
// to the nearest endpoint, so the output magnitude never exceeds the
// endpoint magnitude.
type Curve struct {
	Points []CurvePoint // must be sorted ascending by X
}

func (c *Curve) Process(f *Frame) error {
	if len(c.Points) == 0 {
		return nil
	}
	mag := float32(math.Abs(float64(f.TorqueOut)))
	s := sign(f.TorqueOut)

	pts := c.Points
	if mag <= pts[0].X {
		f.TorqueOut = s * pts[0].Y
		return nil
	}
	last := pts[len(pts)-1]
	if mag >= last.X {
		f.TorqueOut = s * last.Y
		return nil
	}

	for i := 1; i < len(pts); i++ {
		if mag <= pts[i].X {
			lo, hi := pts[i-1], pts[i]
			span := hi.X - lo.X
			var t float32
			if span != 0 {
				t = (mag - lo.X) / span
			}
			y := lo.Y + t*(hi.Y-lo.Y)
			f.TorqueOut = s * y
			return nil
		}
	}
	return nil
}
