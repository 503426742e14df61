// Package haptics implements the C7 LED/haptics engine: a cooperative
// loop, independent of the RT worker, that maps normalized telemetry
// to LED and haptic output patterns through a fixed priority
// hierarchy with hysteresis.
package haptics

import "github.com/lucasb-eyer/go-colorful"

// LEDPatternKind tags the active member of LEDPattern.
type LEDPatternKind int

const (
	LEDOff LEDPatternKind = iota
	LEDRpmBar
	LEDFlagBlink
	LEDPitLimiter
)

// FlagColor selects the blink color for LEDFlagBlink.
type FlagColor int

const (
	FlagColorYellow FlagColor = iota
	FlagColorRed
	FlagColorBlue
	FlagColorCheckered
)

// LEDPattern is a tagged pattern value; only the fields relevant to
// Kind are meaningful.
type LEDPattern struct {
	Kind LEDPatternKind

	// LEDRpmBar
	FillFraction float64
	Color        colorful.Color

	// LEDFlagBlink
	Flag FlagColor

	// LEDPitLimiter
	BlinkColor colorful.Color
}

// HapticsPatternKind tags the active member of HapticsPattern.
type HapticsPatternKind int

const (
	HapticsRimVibration HapticsPatternKind = iota
	HapticsEngineVibration
	HapticsPedalFeedback
)

type PedalID int

const (
	PedalBrake PedalID = iota
	PedalThrottle
)

// HapticsPattern is a tagged pattern value emitted by the router. A
// single frame can produce zero or more of these.
type HapticsPattern struct {
	Kind HapticsPatternKind

	// HapticsRimVibration
	Intensity float64
	FreqHz    float64

	// HapticsEngineVibration
	RPMMult float64

	// HapticsPedalFeedback
	Pedal PedalID
}
