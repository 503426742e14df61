package haptics

import (
	"math"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/telemetry"
)

// Router emits zero or more HapticsPattern values per telemetry frame.
// All three rules are independent; a single frame can trigger rim,
// engine, and pedal feedback simultaneously.
type Router struct {
	SlipThreshold    float64
	RPMThreshold     float64
	BrakingSlipDelta float64 // threshold on (slip during braking) that triggers ABS feedback
	GlobalGain       float64
}

func NewRouter(slipThreshold, rpmThreshold, brakingSlipDelta, globalGain float64) *Router {
	return &Router{
		SlipThreshold:    slipThreshold,
		RPMThreshold:     rpmThreshold,
		BrakingSlipDelta: brakingSlipDelta,
		GlobalGain:       globalGain,
	}
}

func (r *Router) Route(frame telemetry.NormalizedTelemetry, braking bool) []HapticsPattern {
	var out []HapticsPattern

	slip := float64(frame.SlipRatio)
	if math.Abs(slip) > r.SlipThreshold {
		out = append(out, HapticsPattern{
			Kind:      HapticsRimVibration,
			Intensity: r.clampGain(math.Abs(slip)),
			FreqHz:    20 + 80*math.Abs(slip), // scales with slip within an audible-feedback band
		})
	}

	if float64(frame.RPM) > r.RPMThreshold {
		excess := (float64(frame.RPM) - r.RPMThreshold) / r.RPMThreshold
		out = append(out, HapticsPattern{
			Kind:      HapticsEngineVibration,
			Intensity: r.clampGain(excess),
			RPMMult:   1 + excess,
		})
	}

	if braking && math.Abs(slip) > r.BrakingSlipDelta {
		out = append(out, HapticsPattern{
			Kind:      HapticsPedalFeedback,
			Intensity: r.clampGain(math.Abs(slip)),
			Pedal:     PedalBrake,
		})
	}

	return out
}

func (r *Router) clampGain(v float64) float64 {
	v *= r.GlobalGain
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
