// Package safety implements the C4 safety subsystem: the state machine
// gating high-torque operation, the FMEA fault detectors that feed it,
// and the soft-stop ramp that forces torque to zero on any fault.
package safety

import (
	"errors"
	"time"
)

// FaultKind enumerates the catalogued fault conditions. Each carries a
// default action (DefaultAction) and a recoverability flag
// (IsRecoverable); no response-time budget is modelled.
type FaultKind int

const (
	FaultUsbStall FaultKind = iota
	FaultEncoderNaN
	FaultThermalLimit
	FaultOvercurrent
	FaultPluginOverrun
	FaultTimingViolation
	FaultSafetyInterlockViolation
	FaultHandsOffTimeout
	FaultPipelineFault
	FaultEmergencyStop
)

func (k FaultKind) String() string {
	switch k {
	case FaultUsbStall:
		return "UsbStall"
	case FaultEncoderNaN:
		return "EncoderNaN"
	case FaultThermalLimit:
		return "ThermalLimit"
	case FaultOvercurrent:
		return "Overcurrent"
	case FaultPluginOverrun:
		return "PluginOverrun"
	case FaultTimingViolation:
		return "TimingViolation"
	case FaultSafetyInterlockViolation:
		return "SafetyInterlockViolation"
	case FaultHandsOffTimeout:
		return "HandsOffTimeout"
	case FaultPipelineFault:
		return "PipelineFault"
	case FaultEmergencyStop:
		return "EmergencyStop"
	default:
		return "Unknown"
	}
}

// FaultAction is the configured response to a detected fault.
type FaultAction int

const (
	ActionSoftStop FaultAction = iota
	ActionQuarantine
	ActionLogAndContinue
	ActionSafeMode
	ActionRestart
)

// IsRecoverable reports whether clear_fault can ever succeed for this
// kind. Overcurrent and EmergencyStop require a restart; everything
// else can be cleared with ClearFault once MinFaultDwell has elapsed.
// No fault is cleared automatically.
func (k FaultKind) IsRecoverable() bool {
	switch k {
	case FaultOvercurrent, FaultEmergencyStop:
		return false
	default:
		return true
	}
}

// DefaultAction mirrors the FMEA matrix's default_action_for table.
func (k FaultKind) DefaultAction() FaultAction {
	switch k {
	case FaultUsbStall, FaultEncoderNaN, FaultThermalLimit, FaultOvercurrent, FaultHandsOffTimeout:
		return ActionSoftStop
	case FaultPluginOverrun:
		return ActionQuarantine
	case FaultTimingViolation:
		return ActionLogAndContinue
	case FaultSafetyInterlockViolation, FaultEmergencyStop:
		return ActionSafeMode
	case FaultPipelineFault:
		return ActionRestart
	default:
		return ActionSoftStop
	}
}

// StateKind tags the active member of State.
type StateKind int

const (
	StateSafeTorque StateKind = iota
	StateAwaitingUiConsent
	StateAwaitingPhysicalAck
	StateHighTorqueActive
	StateFaulted
)

func (s StateKind) String() string {
	switch s {
	case StateSafeTorque:
		return "SafeTorque"
	case StateAwaitingUiConsent:
		return "AwaitingUiConsent"
	case StateAwaitingPhysicalAck:
		return "AwaitingPhysicalAck"
	case StateHighTorqueActive:
		return "HighTorqueActive"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// State is the safety state machine's current member, represented as a
// tagged struct rather than a sum type: only the fields relevant to
// Kind are meaningful.
type State struct {
	Kind StateKind

	// AwaitingUiConsent / AwaitingPhysicalAck
	ChallengeToken uint32
	ComboType      byte
	HoldDurationMs uint16
	ExpiresAt      time.Time

	// HighTorqueActive
	DeviceToken uint32
	GrantedAt   time.Time

	// Faulted
	Fault      FaultKind
	OccurredAt time.Time
}

var (
	ErrWrongState        = errors.New("safety: operation not valid in current state")
	ErrBadToken          = errors.New("safety: token mismatch")
	ErrChallengeExpired  = errors.New("safety: challenge expired")
	ErrNotRecoverable    = errors.New("safety: fault is not recoverable, restart required")
	ErrDwellNotElapsed   = errors.New("safety: minimum fault dwell has not elapsed")
	ErrNoActiveFault     = errors.New("safety: no active fault to clear")
	ErrInterlockViolated = errors.New("safety: safety interlock violation")
)
