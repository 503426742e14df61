package owp1

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Report IDs identify the wire layout that follows.
const (
	ReportIDDeviceCapabilities = 0x01
	ReportIDSafetyChallenge    = 0x03
	ReportIDTorqueCommand      = 0x20
	ReportIDDeviceTelemetry    = 0x21
	ReportIDSafetyAck          = 0x23
)

// Torque command flag bits.
const (
	FlagHandsOnHint       byte = 1 << 0
	FlagSaturationWarning byte = 1 << 1
	FlagEmergencyStop     byte = 1 << 2
	FlagHighTorqueMode    byte = 1 << 3
)

// TorqueCommand is the 7-byte host-to-device torque report:
// report_id | torque_mnm:i16_le | flags:u8 | sequence:u16_le | crc8.
type TorqueCommand struct {
	TorqueMNm int16
	Flags     byte
	Sequence  uint16
}

const torqueCommandLen = 7

// TorqueFromNm quantizes a torque value in Newton-meters to milli-Newton-
// meters, clamping to the i16 range and truncating toward zero. Non-finite
// inputs quantize to 0 (callers are expected to have already run the value
// through the safety clamp, which maps non-finite torque to 0; this is a
// second, independent guard at the wire boundary).
func TorqueFromNm(nm float32) int16 {
	if math.IsNaN(float64(nm)) || math.IsInf(float64(nm), 0) {
		return 0
	}
	milli := float64(nm) * 1000
	if milli >= math.MaxInt16 {
		return math.MaxInt16
	}
	if milli <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(milli) // truncates toward zero, as math.Trunc would
}

// Encode serializes the torque command to its 7-byte wire form.
func (c TorqueCommand) Encode() []byte {
	buf := make([]byte, torqueCommandLen)
	buf[0] = ReportIDTorqueCommand
	binary.LittleEndian.PutUint16(buf[1:3], uint16(c.TorqueMNm))
	buf[3] = c.Flags
	binary.LittleEndian.PutUint16(buf[4:6], c.Sequence)
	buf[6] = crc8(buf[1:6])
	return buf
}

// DecodeTorqueCommand validates and parses a 7-byte torque command report.
func DecodeTorqueCommand(b []byte) (TorqueCommand, error) {
	var c TorqueCommand
	if len(b) < torqueCommandLen {
		return c, fmt.Errorf("torque command: %w", ErrTooShort)
	}
	if b[0] != ReportIDTorqueCommand {
		return c, fmt.Errorf("torque command: %w", ErrBadReportID)
	}
	if crc8(b[1:6]) != b[6] {
		return c, fmt.Errorf("torque command: %w", ErrBadCRC)
	}
	c.TorqueMNm = int16(binary.LittleEndian.Uint16(b[1:3]))
	c.Flags = b[3]
	c.Sequence = binary.LittleEndian.Uint16(b[4:6])
	return c, nil
}

// DeviceTelemetry is the 13-byte device-to-host telemetry report:
// report_id | wheel_angle_mdeg:i32_le | wheel_speed_mrad_s:i16_le |
// temp_c:u8 | faults:u8 | hands_on:u8 | last_torque_seq:u16_le | crc8.
type DeviceTelemetry struct {
	WheelAngleMDeg   int32
	WheelSpeedMRadS  int16
	TempC            uint8
	Faults           uint8
	HandsOn          uint8 // 0 = off, 1 = on, 255 = unknown
	LastTorqueSeq    uint16
}

const deviceTelemetryLen = 13

// HandsOn sentinel values.
const (
	HandsOnOff     uint8 = 0
	HandsOnOn      uint8 = 1
	HandsOnUnknown uint8 = 255
)

// Encode serializes the telemetry report to its 13-byte wire form.
func (t DeviceTelemetry) Encode() []byte {
	buf := make([]byte, deviceTelemetryLen)
	buf[0] = ReportIDDeviceTelemetry
	binary.LittleEndian.PutUint32(buf[1:5], uint32(t.WheelAngleMDeg))
	binary.LittleEndian.PutUint16(buf[5:7], uint16(t.WheelSpeedMRadS))
	buf[7] = t.TempC
	buf[8] = t.Faults
	buf[9] = t.HandsOn
	binary.LittleEndian.PutUint16(buf[10:12], t.LastTorqueSeq)
	buf[12] = crc8(buf[1:12])
	return buf
}

// DecodeDeviceTelemetry validates and parses a 13-byte telemetry report.
func DecodeDeviceTelemetry(b []byte) (DeviceTelemetry, error) {
	var t DeviceTelemetry
	if len(b) < deviceTelemetryLen {
		return t, fmt.Errorf("device telemetry: %w", ErrTooShort)
	}
	if b[0] != ReportIDDeviceTelemetry {
		return t, fmt.Errorf("device telemetry: %w", ErrBadReportID)
	}
	if crc8(b[1:12]) != b[12] {
		return t, fmt.Errorf("device telemetry: %w", ErrBadCRC)
	}
	t.WheelAngleMDeg = int32(binary.LittleEndian.Uint32(b[1:5]))
	t.WheelSpeedMRadS = int16(binary.LittleEndian.Uint16(b[5:7]))
	t.TempC = b[7]
	t.Faults = b[8]
	t.HandsOn = b[9]
	t.LastTorqueSeq = binary.LittleEndian.Uint16(b[10:12])
	return t, nil
}

// Device capability flag bits.
const (
	CapFlagSupportsPID          byte = 1 << 0
	CapFlagSupportsRawTorque1kHz byte = 1 << 1
	CapFlagSupportsHealthStream byte = 1 << 2
	CapFlagSupportsLEDBus       byte = 1 << 3
)

// DeviceCapabilitiesReport is the 9-byte capability negotiation report:
// report_id | flags:u8 | max_torque_cnm:u16_le | encoder_cpr:u16_le |
// min_report_period_us:u16_le | protocol_version:u8. It is not
// CRC-protected: it is exchanged once during enumeration, not on the
// hot path, and a malformed capabilities report simply fails
// enumeration rather than corrupting a live torque stream.
type DeviceCapabilitiesReport struct {
	Flags              byte
	MaxTorqueCNm       uint16
	EncoderCPR         uint16
	MinReportPeriodUs  uint16
	ProtocolVersion    byte
}

const deviceCapabilitiesLen = 9

// Encode serializes the capabilities report to its 9-byte wire form.
func (c DeviceCapabilitiesReport) Encode() []byte {
	buf := make([]byte, deviceCapabilitiesLen)
	buf[0] = ReportIDDeviceCapabilities
	buf[1] = c.Flags
	binary.LittleEndian.PutUint16(buf[2:4], c.MaxTorqueCNm)
	binary.LittleEndian.PutUint16(buf[4:6], c.EncoderCPR)
	binary.LittleEndian.PutUint16(buf[6:8], c.MinReportPeriodUs)
	buf[8] = c.ProtocolVersion
	return buf
}

// DecodeDeviceCapabilitiesReport validates and parses a 9-byte capabilities report.
func DecodeDeviceCapabilitiesReport(b []byte) (DeviceCapabilitiesReport, error) {
	var c DeviceCapabilitiesReport
	if len(b) < deviceCapabilitiesLen {
		return c, fmt.Errorf("device capabilities: %w", ErrTooShort)
	}
	if b[0] != ReportIDDeviceCapabilities {
		return c, fmt.Errorf("device capabilities: %w", ErrBadReportID)
	}
	c.Flags = b[1]
	c.MaxTorqueCNm = binary.LittleEndian.Uint16(b[2:4])
	c.EncoderCPR = binary.LittleEndian.Uint16(b[4:6])
	c.MinReportPeriodUs = binary.LittleEndian.Uint16(b[6:8])
	c.ProtocolVersion = b[8]
	return c, nil
}

// SafetyChallenge is the 12-byte host-to-device high-torque interlock
// challenge: report_id | challenge_token:u32_le | combo_type:u8 |
// hold_duration_ms:u16_le | expires_unix_secs:u32_le.
type SafetyChallenge struct {
	ChallengeToken  uint32
	ComboType       byte
	HoldDurationMs  uint16
	ExpiresUnixSecs uint32
}

const safetyChallengeLen = 12

// Encode serializes the challenge to its 12-byte wire form.
func (c SafetyChallenge) Encode() []byte {
	buf := make([]byte, safetyChallengeLen)
	buf[0] = ReportIDSafetyChallenge
	binary.LittleEndian.PutUint32(buf[1:5], c.ChallengeToken)
	buf[5] = c.ComboType
	binary.LittleEndian.PutUint16(buf[6:8], c.HoldDurationMs)
	binary.LittleEndian.PutUint32(buf[8:12], c.ExpiresUnixSecs)
	return buf
}

// DecodeSafetyChallenge validates and parses a 12-byte challenge report.
func DecodeSafetyChallenge(b []byte) (SafetyChallenge, error) {
	var c SafetyChallenge
	if len(b) < safetyChallengeLen {
		return c, fmt.Errorf("safety challenge: %w", ErrTooShort)
	}
	if b[0] != ReportIDSafetyChallenge {
		return c, fmt.Errorf("safety challenge: %w", ErrBadReportID)
	}
	c.ChallengeToken = binary.LittleEndian.Uint32(b[1:5])
	c.ComboType = b[5]
	c.HoldDurationMs = binary.LittleEndian.Uint16(b[6:8])
	c.ExpiresUnixSecs = binary.LittleEndian.Uint32(b[8:12])
	return c, nil
}

// SafetyAck is the 17-byte device-to-host high-torque interlock ack:
// report_id | challenge_token:u32_le | device_token:u32_le |
// combo_completed:u8 | actual_hold_ms:u16_le |
// completion_timestamp:u32_le | crc8.
type SafetyAck struct {
	ChallengeToken      uint32
	DeviceToken         uint32
	ComboCompleted      byte
	ActualHoldMs        uint16
	CompletionTimestamp uint32
}

const safetyAckLen = 17

// Encode serializes the ack to its 17-byte wire form.
func (a SafetyAck) Encode() []byte {
	buf := make([]byte, safetyAckLen)
	buf[0] = ReportIDSafetyAck
	binary.LittleEndian.PutUint32(buf[1:5], a.ChallengeToken)
	binary.LittleEndian.PutUint32(buf[5:9], a.DeviceToken)
	buf[9] = a.ComboCompleted
	binary.LittleEndian.PutUint16(buf[10:12], a.ActualHoldMs)
	binary.LittleEndian.PutUint32(buf[12:16], a.CompletionTimestamp)
	buf[16] = crc8(buf[1:16])
	return buf
}

// DecodeSafetyAck validates and parses a 17-byte ack report.
func DecodeSafetyAck(b []byte) (SafetyAck, error) {
	var a SafetyAck
	if len(b) < safetyAckLen {
		return a, fmt.Errorf("safety ack: %w", ErrTooShort)
	}
	if b[0] != ReportIDSafetyAck {
		return a, fmt.Errorf("safety ack: %w", ErrBadReportID)
	}
	if crc8(b[1:16]) != b[16] {
		return a, fmt.Errorf("safety ack: %w", ErrBadCRC)
	}
	a.ChallengeToken = binary.LittleEndian.Uint32(b[1:5])
	a.DeviceToken = binary.LittleEndian.Uint32(b[5:9])
	a.ComboCompleted = b[9]
	a.ActualHoldMs = binary.LittleEndian.Uint16(b[10:12])
	a.CompletionTimestamp = binary.LittleEndian.Uint32(b[12:16])
	return a, nil
}
