// Package transport implements the C2 HID transport: device enumeration
// against a static capability table, and bounded-latency, non-blocking
// torque writes to a wheelbase.
package transport

import (
	"context"
	"fmt"
)

// DeviceCapabilities describes what a wheelbase (or other connected
// accessory) supports. It is set once during enumeration and immutable
// thereafter.
type DeviceCapabilities struct {
	SupportsPID           bool
	SupportsRawTorque1kHz bool
	SupportsHealthStream  bool
	SupportsLEDBus        bool
	MaxTorqueNm           float64
	EncoderCPR            int
	MinReportPeriodUs     int
}

// Validate enforces the DeviceCapabilities invariant: a device claiming
// 1kHz raw-torque support must be able to report at least that fast.
func (c DeviceCapabilities) Validate() error {
	if c.MaxTorqueNm < 0 {
		return fmt.Errorf("transport: max_torque_nm must be >= 0, got %v", c.MaxTorqueNm)
	}
	if c.EncoderCPR <= 0 {
		return fmt.Errorf("transport: encoder_cpr must be > 0, got %d", c.EncoderCPR)
	}
	if c.MinReportPeriodUs <= 0 {
		return fmt.Errorf("transport: min_report_period_us must be > 0, got %d", c.MinReportPeriodUs)
	}
	if c.SupportsRawTorque1kHz && c.MinReportPeriodUs > 1100 {
		return fmt.Errorf("transport: supports_raw_torque_1khz requires min_report_period_us <= 1100, got %d", c.MinReportPeriodUs)
	}
	return nil
}

// DeviceInfo identifies a device surfaced by Enumerate.
type DeviceInfo struct {
	VendorID    uint16
	ProductID   uint16
	ProductName string
	Path        string // transport-specific handle (USB bus/address, etc.)
	Capabilities DeviceCapabilities
}

// Device is the C2 contract every transport backend (real USB, the C8
// virtual device) implements identically, so the RT loop cannot tell
// them apart.
type Device interface {
	// Write sends a single wire report. It must return within the
	// reference platform's write-latency budget (~200us warm path) and
	// must never block on kernel I/O long enough to stall the RT loop.
	Write(ctx context.Context, report []byte) error
	// Read returns the most recently received device report, if any,
	// without blocking.
	Read() ([]byte, bool)
	// Close releases the underlying OS handle. Idempotent.
	Close() error
	// Info returns the capabilities/identity this device was opened with.
	Info() DeviceInfo
}
