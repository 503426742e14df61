package haptics

import (
	"github.com/lucasb-eyer/go-colorful"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/telemetry"
)

// LEDMapper selects one LEDPattern per telemetry frame through the
// fixed priority hierarchy from spec §4.7: flags beat pit-limiter beat
// the RPM bar. The RPM bar's zone selection is hysteresis-banded so a
// steady RPM with small jitter never oscillates between more than two
// zones inside any short window.
type LEDMapper struct {
	RpmBandMax    float64
	HysteresisPct float64   // fraction, e.g. 0.05 for +/-5%
	Thresholds    []float64 // ascending fractions of RpmBandMax, e.g. [0.5, 0.75, 0.9]

	currentZone int
}

var lowRPMColor = colorful.Hsv(120, 0.9, 1.0)  // green
var highRPMColor = colorful.Hsv(0, 0.9, 1.0)   // red

func NewLEDMapper(rpmBandMax, hysteresisPct float64, thresholds []float64) *LEDMapper {
	return &LEDMapper{RpmBandMax: rpmBandMax, HysteresisPct: hysteresisPct, Thresholds: thresholds}
}

func (m *LEDMapper) Map(frame telemetry.NormalizedTelemetry) LEDPattern {
	switch {
	case frame.Flags.Has(telemetry.FlagYellow):
		return LEDPattern{Kind: LEDFlagBlink, Flag: FlagColorYellow}
	case frame.Flags.Has(telemetry.FlagRed):
		return LEDPattern{Kind: LEDFlagBlink, Flag: FlagColorRed}
	case frame.Flags.Has(telemetry.FlagBlue):
		return LEDPattern{Kind: LEDFlagBlink, Flag: FlagColorBlue}
	case frame.Flags.Has(telemetry.FlagCheckered):
		return LEDPattern{Kind: LEDFlagBlink, Flag: FlagColorCheckered}
	case frame.Flags.Has(telemetry.FlagPitLimiter):
		return LEDPattern{Kind: LEDPitLimiter, BlinkColor: colorful.Hsv(260, 0.8, 1.0)}
	}

	ratio := 0.0
	if m.RpmBandMax > 0 {
		ratio = float64(frame.RPM) / m.RpmBandMax
	}
	zone := m.zoneFor(clamp01(ratio))
	fill := zoneFill(zone, len(m.Thresholds)+1)
	return LEDPattern{
		Kind:         LEDRpmBar,
		FillFraction: fill,
		Color:        lowRPMColor.BlendLab(highRPMColor, fill),
	}
}

// zoneFor applies hysteresis to the boundary the mapper is currently
// sitting nearest: a zone change only commits once the ratio clears
// the adjacent threshold by HysteresisPct, in whichever direction it
// is moving.
func (m *LEDMapper) zoneFor(ratio float64) int {
	raw := 0
	for _, th := range m.Thresholds {
		if ratio >= th {
			raw++
		} else {
			break
		}
	}
	if raw == m.currentZone {
		return m.currentZone
	}
	if raw > m.currentZone {
		edge := m.Thresholds[m.currentZone]
		if ratio >= edge*(1+m.HysteresisPct) {
			m.currentZone = raw
		}
	} else {
		edge := m.Thresholds[m.currentZone-1]
		if ratio < edge*(1-m.HysteresisPct) {
			m.currentZone = raw
		}
	}
	return m.currentZone
}

func zoneFill(zone, zoneCount int) float64 {
	if zoneCount <= 1 {
		return 1.0
	}
	return float64(zone) / float64(zoneCount-1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
