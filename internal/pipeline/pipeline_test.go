package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// S5: Pipeline = [Reconstruction(4), TorqueCap(0.8)], unit step for 200
// ticks converges within 1% of the cap by tick 200, and never exceeds it.
func TestScenarioS5ReconstructionAndCap(t *testing.T) {
	p := New(NewReconstruction(4), &TorqueCap{Limit: 0.8})
	for i := 0; i < 200; i++ {
		f := &Frame{FFBIn: 1.0}
		require.NoError(t, p.Process(f))
		require.LessOrEqual(t, math.Abs(float64(f.TorqueOut)), 0.8+1e-6)
		if i == 199 {
			require.InDelta(t, 0.8, f.TorqueOut, 0.008)
		}
	}
}

func TestReconstructionDCGain(t *testing.T) {
	r := NewReconstruction(8)
	var out float32
	for i := 0; i < 100; i++ {
		f := &Frame{FFBIn: 1.0}
		require.NoError(t, r.Process(f))
		out = f.TorqueOut
	}
	require.InDelta(t, 1.0, out, 0.01)
}

func TestFrictionZeroAtZeroSpeed(t *testing.T) {
	fr := &Friction{Gain: 2.0, SpeedAdaptive: true, AdaptRate: 1}
	f := &Frame{WheelSpeed: 0}
	require.NoError(t, fr.Process(f))
	require.Zero(t, f.TorqueOut)
}

func TestFrictionOpposesMotion(t *testing.T) {
	fr := &Friction{Gain: 2.0}
	f := &Frame{WheelSpeed: 5}
	require.NoError(t, fr.Process(f))
	require.Less(t, f.TorqueOut, float32(0))

	f2 := &Frame{WheelSpeed: -5}
	require.NoError(t, fr.Process(f2))
	require.Greater(t, f2.TorqueOut, float32(0))
}

func TestFrictionSpeedAdaptiveFadesOut(t *testing.T) {
	slow := &Friction{Gain: 1, SpeedAdaptive: true, AdaptRate: 1}
	fast := &Friction{Gain: 1, SpeedAdaptive: true, AdaptRate: 1}

	fSlow := &Frame{WheelSpeed: 1}
	fFast := &Frame{WheelSpeed: 100}
	require.NoError(t, slow.Process(fSlow))
	require.NoError(t, fast.Process(fFast))
	require.Less(t, float32(math.Abs(float64(fFast.TorqueOut))), float32(math.Abs(float64(fSlow.TorqueOut))))
}

func TestInertiaZeroAtConstantSpeed(t *testing.T) {
	in := &Inertia{Gain: 1, TickPeriodSecs: 0.001}
	f1 := &Frame{WheelSpeed: 3}
	require.NoError(t, in.Process(f1)) // primes prevSpeed, no-op contribution
	f2 := &Frame{WheelSpeed: 3}
	require.NoError(t, in.Process(f2))
	require.Zero(t, f2.TorqueOut)
}

func TestNotchDCGainAndBoundedness(t *testing.T) {
	n := NewNotch(100, 2, 1000)
	var out float32
	for i := 0; i < 1000; i++ {
		f := &Frame{TorqueOut: 1.0}
		require.NoError(t, n.Process(f))
		out = f.TorqueOut
		require.False(t, math.IsNaN(float64(out)))
		require.False(t, math.IsInf(float64(out), 0))
	}
	require.InDelta(t, 1.0, out, 0.05)

	// Boundedness over a long run with a bounded unit input.
	for i := 0; i < 100000; i++ {
		f := &Frame{TorqueOut: float32(math.Sin(float64(i)))}
		require.NoError(t, n.Process(f))
		require.LessOrEqual(t, math.Abs(float64(f.TorqueOut)), 10.0)
	}
}

func TestSlewRateLimitsChange(t *testing.T) {
	s := &SlewRate{MaxSlewPerSec: 100, TickPeriodSecs: 0.001} // limit 0.1 per tick
	f1 := &Frame{TorqueOut: 0}
	require.NoError(t, s.Process(f1))
	f2 := &Frame{TorqueOut: 10}
	require.NoError(t, s.Process(f2))
	require.InDelta(t, 0.1, f2.TorqueOut, 1e-6)
}

func TestCurvePreservesSignAndClamps(t *testing.T) {
	c := &Curve{Points: []CurvePoint{{0, 0}, {1, 0.5}, {2, 1.0}}}

	f := &Frame{TorqueOut: 1.5}
	require.NoError(t, c.Process(f))
	require.InDelta(t, 0.75, f.TorqueOut, 1e-6)

	fNeg := &Frame{TorqueOut: -1.5}
	require.NoError(t, c.Process(fNeg))
	require.InDelta(t, -0.75, fNeg.TorqueOut, 1e-6)

	fOut := &Frame{TorqueOut: 10}
	require.NoError(t, c.Process(fOut))
	require.LessOrEqual(t, math.Abs(float64(fOut.TorqueOut)), 1.0)
}

func TestBumpStopDisabledIsNoop(t *testing.T) {
	b := &BumpStop{RangeMin: -1, RangeMax: 1, SpringGain: 10, Disabled: true, TickPeriodSecs: 0.001}
	f := &Frame{WheelSpeed: 1000, TorqueOut: 0}
	require.NoError(t, b.Process(f))
	require.Zero(t, f.TorqueOut)
}

func TestBumpStopZeroInsideRange(t *testing.T) {
	b := &BumpStop{RangeMin: -1, RangeMax: 1, SpringGain: 10, ProgressiveExponent: 1.5, TickPeriodSecs: 0.001}
	f := &Frame{WheelSpeed: 0, TorqueOut: 0}
	require.NoError(t, b.Process(f))
	require.Zero(t, f.TorqueOut)
}

func TestBumpStopGrowsWithPenetration(t *testing.T) {
	b := &BumpStop{RangeMin: -1, RangeMax: 1, SpringGain: 10, ProgressiveExponent: 2, TickPeriodSecs: 1.0}
	f := &Frame{WheelSpeed: 3} // angle becomes 3, penetration 2 beyond RangeMax=1
	require.NoError(t, b.Process(f))
	require.InDelta(t, -40, f.TorqueOut, 1e-6) // -10 * 2^2
}

func TestTorqueCapNonFinite(t *testing.T) {
	cap := &TorqueCap{Limit: 5}
	f := &Frame{TorqueOut: float32(math.NaN())}
	require.NoError(t, cap.Process(f))
	require.Zero(t, f.TorqueOut)

	f2 := &Frame{TorqueOut: 100}
	require.NoError(t, cap.Process(f2))
	require.Equal(t, float32(5), f2.TorqueOut)
}

func TestHandsOffDetector(t *testing.T) {
	h := &HandsOffDetector{Threshold: 0.05, TimeoutSecs: 0.01, TickPeriodSecs: 0.001}
	for i := 0; i < 9; i++ {
		f := &Frame{TorqueOut: 0.01}
		require.NoError(t, h.Process(f))
		require.False(t, f.HandsOff, "tick %d", i)
	}
	f := &Frame{TorqueOut: 0.01}
	require.NoError(t, h.Process(f))
	require.True(t, f.HandsOff)

	above := &Frame{TorqueOut: 1.0}
	require.NoError(t, h.Process(above))
	require.False(t, above.HandsOff)
}

func TestPipelineDeterminism(t *testing.T) {
	build := func() *Pipeline {
		return New(
			NewReconstruction(4),
			&Friction{Gain: 0.1, SpeedAdaptive: true, AdaptRate: 0.2},
			&Damper{Gain: 0.05},
			&TorqueCap{Limit: 1.0},
		)
	}
	p1, p2 := build(), build()
	inputs := []Frame{
		{FFBIn: 0.2, WheelSpeed: 1},
		{FFBIn: 0.5, WheelSpeed: -2},
		{FFBIn: -0.3, WheelSpeed: 3},
		{FFBIn: 0.9, WheelSpeed: 0},
	}
	for _, in := range inputs {
		f1, f2 := in, in
		require.NoError(t, p1.Process(&f1))
		require.NoError(t, p2.Process(&f2))
		require.Equal(t, f1, f2)
	}
}

func TestHandleSwap(t *testing.T) {
	h := NewHandle(New(&TorqueCap{Limit: 1}))
	f := &Frame{TorqueOut: 5}
	require.NoError(t, h.Load().Process(f))
	require.Equal(t, float32(1), f.TorqueOut)

	prev := h.Swap(New(&TorqueCap{Limit: 2}))
	require.NotNil(t, prev)
	f2 := &Frame{TorqueOut: 5}
	require.NoError(t, h.Load().Process(f2))
	require.Equal(t, float32(2), f2.TorqueOut)
}
