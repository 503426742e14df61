package transport

import "errors"

// Error taxonomy for C2, per spec §4.2. TorqueLimit is listed for
// completeness but is never returned by this package: it surfaces from
// the safety clamp (internal/safety), not the transport.
var (
	ErrDeviceDisconnected = errors.New("transport: device disconnected")
	ErrWritePending       = errors.New("transport: previous write still pending")
	ErrTimingViolation    = errors.New("transport: timing violation")
	ErrTorqueLimit        = errors.New("transport: torque limit exceeded")
	ErrPipelineFault      = errors.New("transport: pipeline fault")
)
