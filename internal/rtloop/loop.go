// Package rtloop implements the C5 fixed-period scheduler: it pulls
// telemetry, runs the filter pipeline, applies the safety clamp, and
// issues one HID write per tick, all on a single cooperative worker.
package rtloop

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/pipeline"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/telemetry"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/transport"
	"github.com/EffortlessMetrics/OpenRacing-sub003/pkg/owp1"
)

// Config holds the fixed parameters of one loop instance.
type Config struct {
	Period          time.Duration // target tick period, typically 1000us
	MaxNominalNm    float64       // scales Frame.TorqueOut in [-1,1] to Nm before the safety clamp
	KprobeSymbol    string        // write-latency tracer attach point; empty disables tracing
	UseWallClockLat bool          // force wall-clock write-latency sampling even if eBPF is available
}

// Loop is the C5 RT worker. It owns exactly one Frame per tick and is
// never accessed concurrently except through Stop and the Metrics it
// exposes (which are internally synchronized).
type Loop struct {
	cfg     Config
	device  transport.Device
	handle  *pipeline.Handle
	safety  *safety.Service
	slot    *telemetry.LatestSlot[telemetry.NormalizedTelemetry]
	metrics *Metrics
	tracer  *Tracer

	stop atomic.Bool
	seq  uint16

	consecutiveWriteFailures uint32
	lastWriteSuccess         time.Time
	haveLastWriteSuccess     bool
	lastClampedNm            float64
}

func NewLoop(cfg Config, device transport.Device, handle *pipeline.Handle, svc *safety.Service, slot *telemetry.LatestSlot[telemetry.NormalizedTelemetry]) *Loop {
	l := &Loop{
		cfg:     cfg,
		device:  device,
		handle:  handle,
		safety:  svc,
		slot:    slot,
		metrics: NewMetrics(),
	}
	if cfg.KprobeSymbol != "" && !cfg.UseWallClockLat {
		l.tracer = NewTracer(cfg.KprobeSymbol)
	}
	return l
}

func (l *Loop) Metrics() *Metrics { return l.metrics }

// Stop requests the loop to exit. It is checked at the top of each
// tick; the current tick always finishes before the loop returns.
func (l *Loop) Stop() { l.stop.Store(true) }

// Run drives the fixed-period loop until ctx is cancelled or Stop is
// called. The next deadline is always computed by addition from the
// previous one, never from time.Now()+period, so scheduling error
// never accumulates across ticks.
func (l *Loop) Run(ctx context.Context) error {
	deadline := time.Now().Add(l.cfg.Period)

	for {
		if l.stop.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if sleep := time.Until(deadline); sleep > 0 {
			time.Sleep(sleep)
		}

		wake := time.Now()
		jitter := wake.Sub(deadline)
		if jitter < 0 {
			jitter = -jitter
		}

		missed := false
		if wake.Sub(deadline) > l.cfg.Period {
			missed = true
			behind := wake.Sub(deadline)
			n := behind / l.cfg.Period
			deadline = deadline.Add(n * l.cfg.Period)
		}

		l.tick(ctx, deadline, uint64(jitter.Nanoseconds()))
		l.metrics.RecordTick(uint64(jitter.Nanoseconds()), missed)

		deadline = deadline.Add(l.cfg.Period)
	}
}

// tick runs the ten-step per-tick sequence from spec §4.5 in order.
func (l *Loop) tick(ctx context.Context, scheduledAt time.Time, jitterNs uint64) {
	// 1. Snapshot latest telemetry frame.
	tele, haveTele := l.slot.Load()

	// 2. Read incoming device reports (non-blocking); feed C4.
	if report, ok := l.device.Read(); ok {
		l.handleIncomingReport(report)
	}

	// 3. Run FMEA detectors with new evidence.
	detectors := l.safety.Detectors()
	detectors.UpdateTime(scheduledAt)
	if kind, ok := detectors.DetectUSBFault(l.consecutiveWriteFailures, l.lastWriteSuccess, l.haveLastWriteSuccess); ok {
		l.reportFault(kind)
	}
	if haveTele {
		if kind, ok := detectors.DetectEncoderFault(!math.IsNaN(float64(tele.SpeedMS)) && !math.IsInf(float64(tele.SpeedMS), 0)); ok {
			l.reportFault(kind)
		}
	}

	// 4. Build Frame.
	l.seq++
	frame := &pipeline.Frame{
		TsMonoNs: uint64(scheduledAt.UnixNano()),
		Seq:      l.seq,
	}
	if haveTele {
		frame.FFBIn = tele.FFBScalar
		frame.WheelSpeed = tele.SpeedMS
	}

	// 5. Run the filter pipeline.
	p := l.handle.Load()
	if p != nil {
		if err := p.Process(frame); err != nil {
			l.reportFault(safety.FaultPipelineFault)
			frame.TorqueOut = 0
		}
	}

	if kind, ok := detectors.DetectTimingViolation(jitterNs / 1000); ok {
		l.reportFault(kind)
	}

	// 6. Advance the soft-stop ramp by one tick period so an active
	// decay reaches 0 instead of sticking at the fault-time ceiling.
	l.safety.UpdateSoftStop(l.cfg.Period)

	// 7. Safety clamp reads whatever ceiling step 6 just recomputed.
	requestedNm := float64(frame.TorqueOut) * l.cfg.MaxNominalNm
	clampedNm := l.safety.ClampTorqueNm(requestedNm)
	l.lastClampedNm = clampedNm
	l.metrics.SetSoftStopActive(l.safety.IsSoftStopActive())

	// 8. Encode torque command.
	cmd := owp1.TorqueCommand{
		TorqueMNm: owp1.TorqueFromNm(float32(clampedNm)),
		Sequence:  l.seq,
	}
	if !frame.HandsOff {
		cmd.Flags |= owp1.FlagHandsOnHint
	}
	encoded := cmd.Encode()

	// 9. Write, counting WritePending rather than retrying.
	writeStart := time.Now()
	err := l.device.Write(ctx, encoded)
	if err != nil {
		if errors.Is(err, transport.ErrWritePending) {
			l.metrics.RecordWritePending()
		}
		l.consecutiveWriteFailures++
	} else {
		l.consecutiveWriteFailures = 0
		l.lastWriteSuccess, l.haveLastWriteSuccess = scheduledAt, true
	}

	// 10. Update metrics: write latency and fault/jitter counts already
	// recorded by the caller (tick jitter) and above (faults).
	if l.tracer != nil {
		if ev, ok := l.tracer.Sample(); ok {
			l.metrics.RecordWriteLatency(ev.LatencyNs / 1000)
			return
		}
	}
	l.metrics.RecordWriteLatency(uint64(time.Since(writeStart).Microseconds()))
}

func (l *Loop) reportFault(kind safety.FaultKind) {
	l.safety.ReportFault(kind, l.lastClampedNm)
	l.metrics.RecordFault(kind.String())
}

// handleIncomingReport dispatches a decoded device report to the
// relevant C4 operation based on its report ID.
func (l *Loop) handleIncomingReport(report []byte) {
	if len(report) == 0 {
		return
	}
	switch report[0] {
	case owp1.ReportIDSafetyAck:
		ack, err := owp1.DecodeSafetyAck(report)
		if err != nil {
			return
		}
		_ = l.safety.ConfirmHighTorque(safety.Ack{
			ChallengeToken: ack.ChallengeToken,
			DeviceToken:    ack.DeviceToken,
			ComboCompleted: ack.ComboCompleted,
			ActualHoldMs:   ack.ActualHoldMs,
			CRCValid:       true,
		}, true, 0)
	case owp1.ReportIDDeviceTelemetry:
		// The decoded report is discarded: the loop reads wheel speed
		// from the C9 adapter frame, and the device's hands-on,
		// temperature, and fault fields are not used.
		_, _ = owp1.DecodeDeviceTelemetry(report)
	}
}
