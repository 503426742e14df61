package fault

import (
	"context"
	"sync"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/transport"
	"github.com/EffortlessMetrics/OpenRacing-sub003/pkg/owp1"
)

// VirtualDevice implements transport.Device without hardware: it
// records every torque write, tracks the last-seen sequence number,
// and synthesizes DeviceTelemetry reports reflecting a simple wheel
// model (angle integrates from received torque). It is the "same
// interface, different backend" device C8 drives instead of a real
// wheelbase.
type VirtualDevice struct {
	info DeviceInfoOverride

	mu              sync.Mutex
	writes          []owp1.TorqueCommand
	lastSeq         uint16
	haveSeq         bool
	seqRegressions  int
	wheelAngleMDeg  int32
	wheelSpeedMRadS int16
	tempC           uint8
	handsOn         uint8
	pendingRead     []byte
	havePendingRead bool
	closed          bool

	injectWriteErr error // when set, Write returns this error instead of succeeding
}

// DeviceInfoOverride lets a scenario construct a VirtualDevice that
// reports whatever capabilities the scenario needs.
type DeviceInfoOverride = transport.DeviceInfo

func NewVirtualDevice(info DeviceInfoOverride) *VirtualDevice {
	return &VirtualDevice{info: info, tempC: 25, handsOn: owp1.HandsOnOn}
}

// InjectWriteError causes subsequent Write calls to fail with err.
// Pass nil to clear.
func (d *VirtualDevice) InjectWriteError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injectWriteErr = err
}

// SetTemperatureC overrides the synthetic temperature surfaced in the
// next telemetry report, for driving ThermalLimit scenarios.
func (d *VirtualDevice) SetTemperatureC(c uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempC = c
}

// SetHandsOn overrides the synthetic hands-on bit.
func (d *VirtualDevice) SetHandsOn(v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handsOn = v
}

// Write decodes and validates the command the way a real device would,
// records it, and advances the synthetic wheel model.
func (d *VirtualDevice) Write(ctx context.Context, report []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.ErrDeviceDisconnected
	}
	if d.injectWriteErr != nil {
		return d.injectWriteErr
	}

	cmd, err := owp1.DecodeTorqueCommand(report)
	if err != nil {
		return err
	}
	if d.haveSeq && cmd.Sequence < d.lastSeq {
		d.seqRegressions++ // spec §5: a higher sequence must never be followed by a lower one
	}
	d.lastSeq = cmd.Sequence
	d.haveSeq = true
	d.writes = append(d.writes, cmd)

	// Synthetic wheel model: angular speed proportional to commanded
	// torque, angle integrates speed. Not physically exact, just
	// enough motion to drive encoder/filter-pipeline assertions.
	d.wheelSpeedMRadS = int16(int32(cmd.TorqueMNm) / 4)
	d.wheelAngleMDeg += int32(d.wheelSpeedMRadS) / 10

	telem := owp1.DeviceTelemetry{
		WheelAngleMDeg:  d.wheelAngleMDeg,
		WheelSpeedMRadS: d.wheelSpeedMRadS,
		TempC:           d.tempC,
		Faults:          0,
		HandsOn:         d.handsOn,
		LastTorqueSeq:   cmd.Sequence,
	}
	d.pendingRead = telem.Encode()
	d.havePendingRead = true
	return nil
}

// Read returns the telemetry report synthesized by the most recent
// Write, if any. Matches the real device's "non-blocking, most recent
// wins" contract.
func (d *VirtualDevice) Read() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.havePendingRead {
		return nil, false
	}
	d.havePendingRead = false
	return d.pendingRead, true
}

func (d *VirtualDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *VirtualDevice) Info() transport.DeviceInfo { return d.info }

// WriteCount reports how many torque commands have been accepted.
func (d *VirtualDevice) WriteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

// LastWrite returns the most recently accepted torque command.
func (d *VirtualDevice) LastWrite() (owp1.TorqueCommand, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.writes) == 0 {
		return owp1.TorqueCommand{}, false
	}
	return d.writes[len(d.writes)-1], true
}

// SequenceRegressions counts how many writes arrived with a sequence
// number lower than one already seen — the ordering invariant from
// spec §5 this device exists partly to validate.
func (d *VirtualDevice) SequenceRegressions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seqRegressions
}
