package safety

import "time"

// FaultThresholds is detection configuration, not code: the FMEA
// detectors only compare evidence against these values. Grounded on
// openracing-fmea's FaultThresholds.
type FaultThresholds struct {
	USBTimeoutMs               uint64
	USBMaxConsecutiveFailures  uint32
	EncoderNaNWindowMs         uint64
	EncoderMaxNaNCount         uint32
	ThermalLimitCelsius        float32
	ThermalHysteresisCelsius   float32
	PluginTimeoutUs            uint64
	PluginMaxOverruns          uint32
	TimingViolationThresholdUs uint64
	TimingMaxViolations        uint32
}

// DefaultFaultThresholds returns conservative defaults suitable for the
// reference wheelbase; callers override per device profile.
func DefaultFaultThresholds() FaultThresholds {
	return FaultThresholds{
		USBTimeoutMs:               50,
		USBMaxConsecutiveFailures:  3,
		EncoderNaNWindowMs:         100,
		EncoderMaxNaNCount:         5,
		ThermalLimitCelsius:        80,
		ThermalHysteresisCelsius:   5,
		PluginTimeoutUs:            100,
		PluginMaxOverruns:          10,
		TimingViolationThresholdUs: 250,
		TimingMaxViolations:        100,
	}
}

// detectionState is per-fault-kind bookkeeping for the FMEA detectors.
// Bounded, allocation-free after construction: RT-safe.
type detectionState struct {
	consecutiveCount uint32
	windowCount      uint32
	windowStart      time.Time
	haveWindowStart  bool
	lastOccurrence   time.Time
	haveLast         bool
}

// Detectors runs the FMEA detection methods against live evidence each
// tick. All methods are bounded and allocation-free.
type Detectors struct {
	thresholds  FaultThresholds
	currentTime time.Time
	states      map[FaultKind]*detectionState
}

func NewDetectors(thresholds FaultThresholds) *Detectors {
	d := &Detectors{thresholds: thresholds, states: make(map[FaultKind]*detectionState, 9)}
	for _, k := range []FaultKind{
		FaultUsbStall, FaultEncoderNaN, FaultThermalLimit, FaultOvercurrent,
		FaultPluginOverrun, FaultTimingViolation, FaultSafetyInterlockViolation,
		FaultHandsOffTimeout, FaultPipelineFault,
	} {
		d.states[k] = &detectionState{}
	}
	return d
}

func (d *Detectors) UpdateTime(t time.Time) { d.currentTime = t }

func (d *Detectors) state(k FaultKind) *detectionState {
	s, ok := d.states[k]
	if !ok {
		s = &detectionState{}
		d.states[k] = s
	}
	return s
}

// DetectUSBFault reports FaultUsbStall when consecutive write failures
// or elapsed time since last success cross threshold.
func (d *Detectors) DetectUSBFault(consecutiveFailures uint32, lastSuccess time.Time, haveLastSuccess bool) (FaultKind, bool) {
	s := d.state(FaultUsbStall)
	s.consecutiveCount = consecutiveFailures

	if haveLastSuccess {
		timeout := time.Duration(d.thresholds.USBTimeoutMs) * time.Millisecond
		if d.currentTime.Sub(lastSuccess) > timeout {
			return FaultUsbStall, true
		}
	}
	if consecutiveFailures >= d.thresholds.USBMaxConsecutiveFailures {
		return FaultUsbStall, true
	}
	return 0, false
}

// DetectEncoderFault reports FaultEncoderNaN once non-finite encoder
// values occur EncoderMaxNaNCount times within a rolling window.
func (d *Detectors) DetectEncoderFault(finite bool) (FaultKind, bool) {
	if finite {
		return 0, false
	}
	s := d.state(FaultEncoderNaN)
	s.windowCount++
	s.lastOccurrence, s.haveLast = d.currentTime, true

	windowDur := time.Duration(d.thresholds.EncoderNaNWindowMs) * time.Millisecond
	if !s.haveWindowStart {
		s.windowStart, s.haveWindowStart = d.currentTime, true
	}
	if d.currentTime.Sub(s.windowStart) > windowDur {
		s.windowStart = d.currentTime
		s.windowCount = 1
	}
	if s.windowCount >= d.thresholds.EncoderMaxNaNCount {
		return FaultEncoderNaN, true
	}
	return 0, false
}

// DetectThermalFault reports FaultThermalLimit when tempC exceeds
// ThermalLimitCelsius and no thermal fault is already active; while
// alreadyActive is true it reports nothing. ThermalHysteresisCelsius is
// not read here, and no clear threshold is evaluated by this detector.
func (d *Detectors) DetectThermalFault(tempC float32, alreadyActive bool) (FaultKind, bool) {
	if alreadyActive {
		return 0, false
	}
	if tempC > d.thresholds.ThermalLimitCelsius {
		return FaultThermalLimit, true
	}
	return 0, false
}

// DetectPluginOverrun reports FaultPluginOverrun after PluginMaxOverruns
// consecutive budget overruns.
func (d *Detectors) DetectPluginOverrun(executionTimeUs uint64) (FaultKind, bool) {
	if executionTimeUs <= d.thresholds.PluginTimeoutUs {
		d.state(FaultPluginOverrun).consecutiveCount = 0
		return 0, false
	}
	s := d.state(FaultPluginOverrun)
	s.consecutiveCount++
	s.lastOccurrence, s.haveLast = d.currentTime, true
	if s.consecutiveCount >= d.thresholds.PluginMaxOverruns {
		return FaultPluginOverrun, true
	}
	return 0, false
}

// DetectTimingViolation reports FaultTimingViolation after
// TimingMaxViolations consecutive jitter samples over threshold.
func (d *Detectors) DetectTimingViolation(jitterUs uint64) (FaultKind, bool) {
	if jitterUs <= d.thresholds.TimingViolationThresholdUs {
		d.state(FaultTimingViolation).consecutiveCount = 0
		return 0, false
	}
	s := d.state(FaultTimingViolation)
	s.consecutiveCount++
	s.lastOccurrence, s.haveLast = d.currentTime, true
	if s.consecutiveCount >= d.thresholds.TimingMaxViolations {
		return FaultTimingViolation, true
	}
	return 0, false
}

// Reset clears detection state for a single fault kind, called after a
// successful clear_fault.
func (d *Detectors) Reset(k FaultKind) {
	d.states[k] = &detectionState{}
}

// ResetAll clears every detector's bookkeeping.
func (d *Detectors) ResetAll() {
	for k := range d.states {
		d.states[k] = &detectionState{}
	}
}
