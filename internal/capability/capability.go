// Package capability implements the C6 capability negotiation: a pure
// function from device capabilities and optional game compatibility
// hints to a single operating mode decision. It performs no I/O; the
// transport layer caches and invalidates the result per device
// session (internal/transport.SessionCache).
package capability

import "github.com/EffortlessMetrics/OpenRacing-sub003/internal/transport"

// Mode is the negotiated operating mode for a device session.
type Mode int

const (
	Unsupported Mode = iota
	RawTorque
	PidPassthrough
)

func (m Mode) String() string {
	switch m {
	case RawTorque:
		return "RawTorque"
	case PidPassthrough:
		return "PidPassthrough"
	default:
		return "Unsupported"
	}
}

const (
	minUpdateRateHz  = 100
	maxUpdateRateHz  = 1000
	pidPassthroughHz = 60
)

// PreferredMode is the game's explicit preference, if any.
type PreferredMode int

const (
	NoPreference PreferredMode = iota
	PreferRawTorque
	PreferPidPassthrough
)

// GameCompatibility is optional; a zero value means "no game info",
// which never disqualifies RawTorque.
type GameCompatibility struct {
	SupportsRobustFFB bool
	Preferred         PreferredMode
}

// Decision is the negotiation result: the chosen mode and, for
// RawTorque, the update rate derived from the device's minimum report
// period.
type Decision struct {
	Mode         Mode
	UpdateRateHz int
}

// Negotiate is a pure function: same inputs always produce the same
// Decision, with no side effects.
func Negotiate(caps transport.DeviceCapabilities, game *GameCompatibility) Decision {
	rawTorqueAllowed := caps.SupportsRawTorque1kHz && rawTorqueGameCompatible(game)
	if rawTorqueAllowed {
		return Decision{Mode: RawTorque, UpdateRateHz: updateRateFor(caps.MinReportPeriodUs)}
	}
	if caps.SupportsPID {
		return Decision{Mode: PidPassthrough, UpdateRateHz: pidPassthroughHz}
	}
	return Decision{Mode: Unsupported}
}

func rawTorqueGameCompatible(game *GameCompatibility) bool {
	if game == nil {
		return true
	}
	return game.SupportsRobustFFB || game.Preferred == PreferRawTorque
}

func updateRateFor(minReportPeriodUs int) int {
	if minReportPeriodUs <= 0 {
		return minUpdateRateHz
	}
	hz := 1_000_000 / minReportPeriodUs
	if hz < minUpdateRateHz {
		return minUpdateRateHz
	}
	if hz > maxUpdateRateHz {
		return maxUpdateRateHz
	}
	return hz
}
