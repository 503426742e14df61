package safety

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SafeLimitNm:      5,
		HighLimitNm:      30,
		ChallengeTimeout: 2 * time.Second,
		RequiredCombo:    0x01,
		RequiredHoldMs:   500,
		MinFaultDwell:    1 * time.Second,
		SoftStopDecay:    100 * time.Millisecond,
		Thresholds:       DefaultFaultThresholds(),
	}
}

// Invariant 1: |clamped_torque(T)| <= state_max(T), with state_max(Faulted)=0.
func TestClampRespectsStateMax(t *testing.T) {
	s := NewService(testConfig())
	require.Equal(t, 5.0, s.ClampTorqueNm(100))
	require.Equal(t, -5.0, s.ClampTorqueNm(-100))

	s.ReportFault(FaultUsbStall, 3.0)
	// soft-stop ramp starts at 3.0 and only decreases; never exceeds it.
	require.LessOrEqual(t, math.Abs(s.ClampTorqueNm(100)), 3.0)
}

// Invariant 2: clamp_torque(non-finite) = 0.
func TestClampNonFinite(t *testing.T) {
	s := NewService(testConfig())
	require.Zero(t, s.ClampTorqueNm(math.NaN()))
	require.Zero(t, s.ClampTorqueNm(math.Inf(1)))
	require.Zero(t, s.ClampTorqueNm(math.Inf(-1)))
}

// S3: wrong token leaves state unchanged; expired challenge (even with
// the right token) returns an error and resets to SafeTorque.
func TestScenarioS3ChallengeFlow(t *testing.T) {
	cfg := testConfig()
	cfg.ChallengeTimeout = 10 * time.Millisecond
	s := NewService(cfg)

	token, err := s.RequestHighTorque()
	require.NoError(t, err)
	require.Equal(t, StateAwaitingUiConsent, s.State().Kind)

	err = s.ProvideUIConsent(token + 1)
	require.ErrorIs(t, err, ErrBadToken)
	require.Equal(t, StateAwaitingUiConsent, s.State().Kind)

	time.Sleep(20 * time.Millisecond)
	err = s.ProvideUIConsent(token)
	require.ErrorIs(t, err, ErrChallengeExpired)
	require.Equal(t, StateSafeTorque, s.State().Kind)
}

// S4: five consecutive USB failures trigger UsbStall; clamp returns 0
// next tick; after the dwell, clear_fault succeeds.
func TestScenarioS4UsbStallAndRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.SoftStopDecay = 0 // ramp collapses to zero immediately on first update
	s := NewService(cfg)
	s.Detectors().UpdateTime(time.Now())

	var fault FaultKind
	var faulted bool
	for i := uint32(1); i <= 5; i++ {
		fault, faulted = s.Detectors().DetectUSBFault(i, time.Time{}, false)
	}
	require.True(t, faulted)
	require.Equal(t, FaultUsbStall, fault)

	s.ReportFault(fault, 5.0)
	require.Equal(t, StateFaulted, s.State().Kind)

	s.UpdateSoftStop(time.Millisecond)
	require.Zero(t, s.ClampTorqueNm(100))

	err := s.ClearFault()
	require.ErrorIs(t, err, ErrDwellNotElapsed)

	time.Sleep(cfg.MinFaultDwell + 5*time.Millisecond)
	require.NoError(t, s.ClearFault())
	require.Equal(t, StateSafeTorque, s.State().Kind)
}

// S6: safe limit enforcement with no fault triggered.
func TestScenarioS6LimitEnforcementNoFault(t *testing.T) {
	s := NewService(testConfig())
	out := s.ClampTorqueNm(30)
	require.Equal(t, 5.0, out)
	require.Equal(t, StateSafeTorque, s.State().Kind)
}

// Invariant 7: HighTorqueActive is reachable only via
// SafeTorque -> AwaitingUiConsent -> AwaitingPhysicalAck -> HighTorqueActive.
func TestHighTorqueReachabilityPath(t *testing.T) {
	s := NewService(testConfig())

	err := s.ConfirmHighTorque(Ack{}, true, 0)
	require.ErrorIs(t, err, ErrWrongState)

	token, err := s.RequestHighTorque()
	require.NoError(t, err)

	err = s.ConfirmHighTorque(Ack{}, true, 0)
	require.ErrorIs(t, err, ErrWrongState)

	require.NoError(t, s.ProvideUIConsent(token))
	require.Equal(t, StateAwaitingPhysicalAck, s.State().Kind)

	st := s.State()
	ack := Ack{
		ChallengeToken: st.ChallengeToken,
		DeviceToken:    0xAABBCCDD,
		ComboCompleted: st.ComboType,
		ActualHoldMs:   st.HoldDurationMs,
		CRCValid:       true,
	}
	require.NoError(t, s.ConfirmHighTorque(ack, true, 0))
	require.Equal(t, StateHighTorqueActive, s.State().Kind)
	require.Equal(t, 30.0, s.ClampTorqueNm(1000))
}

func TestConfirmHighTorqueWrongComboReportsInterlockFault(t *testing.T) {
	s := NewService(testConfig())
	token, _ := s.RequestHighTorque()
	require.NoError(t, s.ProvideUIConsent(token))

	st := s.State()
	ack := Ack{
		ChallengeToken: st.ChallengeToken,
		ComboCompleted: st.ComboType + 1, // wrong combo
		ActualHoldMs:   st.HoldDurationMs,
		CRCValid:       true,
	}
	err := s.ConfirmHighTorque(ack, true, 2.0)
	require.ErrorIs(t, err, ErrInterlockViolated)
	require.Equal(t, StateFaulted, s.State().Kind)
	require.Equal(t, FaultSafetyInterlockViolation, s.State().Fault)
}

func TestDowngradeFromHighTorque(t *testing.T) {
	s := NewService(testConfig())
	token, _ := s.RequestHighTorque()
	require.NoError(t, s.ProvideUIConsent(token))
	st := s.State()
	require.NoError(t, s.ConfirmHighTorque(Ack{
		ChallengeToken: st.ChallengeToken,
		ComboCompleted: st.ComboType,
		ActualHoldMs:   st.HoldDurationMs,
		CRCValid:       true,
	}, true, 0))

	s.Downgrade()
	require.Equal(t, StateSafeTorque, s.State().Kind)
	require.Equal(t, 5.0, s.ClampTorqueNm(1000))
}

func TestSoftStopRampDecaysToZero(t *testing.T) {
	sc := NewSoftStopController(100 * time.Millisecond)
	sc.StartSoftStop(-10)
	require.True(t, sc.IsActive())

	v := sc.Update(50 * time.Millisecond)
	require.InDelta(t, 5.0, v, 1e-9)

	v = sc.Update(60 * time.Millisecond)
	require.Zero(t, v)
	require.False(t, sc.IsActive())
}

func TestDetectPluginOverrunRequiresConsecutiveOverruns(t *testing.T) {
	thresholds := DefaultFaultThresholds()
	thresholds.PluginMaxOverruns = 3
	d := NewDetectors(thresholds)

	_, ok := d.DetectPluginOverrun(thresholds.PluginTimeoutUs + 1)
	require.False(t, ok)
	_, ok = d.DetectPluginOverrun(thresholds.PluginTimeoutUs + 1)
	require.False(t, ok)

	// An in-budget tick must reset the streak, not just fail to extend it.
	_, ok = d.DetectPluginOverrun(thresholds.PluginTimeoutUs - 1)
	require.False(t, ok)

	_, ok = d.DetectPluginOverrun(thresholds.PluginTimeoutUs + 1)
	require.False(t, ok)
	_, ok = d.DetectPluginOverrun(thresholds.PluginTimeoutUs + 1)
	require.False(t, ok)
	kind, ok := d.DetectPluginOverrun(thresholds.PluginTimeoutUs + 1)
	require.True(t, ok)
	require.Equal(t, FaultPluginOverrun, kind)
}

func TestDetectTimingViolationRequiresConsecutiveViolations(t *testing.T) {
	thresholds := DefaultFaultThresholds()
	thresholds.TimingMaxViolations = 3
	d := NewDetectors(thresholds)

	_, ok := d.DetectTimingViolation(thresholds.TimingViolationThresholdUs + 1)
	require.False(t, ok)
	_, ok = d.DetectTimingViolation(thresholds.TimingViolationThresholdUs + 1)
	require.False(t, ok)

	// An under-threshold tick must reset the streak, not just fail to extend it.
	_, ok = d.DetectTimingViolation(thresholds.TimingViolationThresholdUs - 1)
	require.False(t, ok)

	_, ok = d.DetectTimingViolation(thresholds.TimingViolationThresholdUs + 1)
	require.False(t, ok)
	_, ok = d.DetectTimingViolation(thresholds.TimingViolationThresholdUs + 1)
	require.False(t, ok)
	kind, ok := d.DetectTimingViolation(thresholds.TimingViolationThresholdUs + 1)
	require.True(t, ok)
	require.Equal(t, FaultTimingViolation, kind)
}

func TestClearFaultNotRecoverable(t *testing.T) {
	s := NewService(testConfig())
	s.ReportFault(FaultOvercurrent, 1.0)
	time.Sleep(s.cfg.MinFaultDwell + time.Millisecond)
	err := s.ClearFault()
	require.ErrorIs(t, err, ErrNotRecoverable)
}

func TestFaultAndRecoveryCallbacksFire(t *testing.T) {
	s := NewService(testConfig())
	var gotFault FaultKind
	var faultFired, recoveryFired bool
	require.True(t, s.OnFault(func(k FaultKind) { gotFault, faultFired = k, true }))
	require.True(t, s.OnRecovery(func() { recoveryFired = true }))

	s.ReportFault(FaultThermalLimit, 2.0)
	require.True(t, faultFired)
	require.Equal(t, FaultThermalLimit, gotFault)

	time.Sleep(s.cfg.MinFaultDwell + time.Millisecond)
	require.NoError(t, s.ClearFault())
	require.True(t, recoveryFired)
}

func TestDetectThermalFaultHysteresis(t *testing.T) {
	d := NewDetectors(DefaultFaultThresholds())
	_, ok := d.DetectThermalFault(70, false)
	require.False(t, ok)

	_, ok = d.DetectThermalFault(85, false)
	require.True(t, ok)

	// The detector never re-raises while alreadyActive is true.
	_, ok = d.DetectThermalFault(79, true)
	require.False(t, ok)
}
