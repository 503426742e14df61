package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/pipeline"
)

func validDocYAML() string {
	return `
tick_rate_hz: 1000
max_tick_jitter_us: 200
kprobe_symbol: vfs_write
pipeline:
  - kind: reconstruction
    taps: 4
  - kind: friction
    gain: 0.5
    speed_adaptive: true
    adapt_rate: 0.1
  - kind: notch
    center_hz: 60
    q: 0.7
  - kind: torque_cap
    limit: 10
safety:
  safe_torque_nm: 5
  high_torque_nm: 15
  challenge_timeout_ms: 5000
  combo_hold_ms: 500
  required_combo: 1
  hands_off_timeout_ms: 3000
  min_fault_dwell_ms: 100
  soft_stop_decay_ms: 150
fmea:
  usb_timeout_ms: 50
  usb_max_consecutive_failures: 5
  encoder_nan_window_ms: 100
  encoder_max_nan_count: 3
  thermal_limit_c: 80
  thermal_hysteresis_c: 5
  plugin_timeout_us: 500
  plugin_max_overruns: 3
  timing_violation_threshold_us: 200
  timing_max_violations: 10
led_haptics:
  rate_hz: 100
  rpm_band_max: 8000
  hysteresis_pct: 0.05
  thresholds: [0.5, 0.75, 0.9]
  slip_threshold: 0.1
  rpm_threshold: 6000
  braking_slip_delta: 0.2
  global_gain: 1.0
observability:
  health_sample_hz: 10
  metrics_port: 9100
`
}

func TestParseValidDocument(t *testing.T) {
	doc, err := Parse([]byte(validDocYAML()))
	require.NoError(t, err)
	require.Equal(t, 1000, doc.TickRateHz)
	require.Len(t, doc.Pipeline, 4)
}

func TestParseRejectsOutOfBoundTickRate(t *testing.T) {
	bad := validDocYAML()
	bad = replaceOnce(bad, "tick_rate_hz: 1000", "tick_rate_hz: 5")
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	require.Contains(t, fe.Field, "TickRateHz")
}

func TestParseRejectsHighBelowSafe(t *testing.T) {
	bad := validDocYAML()
	bad = replaceOnce(bad, "high_torque_nm: 15", "high_torque_nm: 1")
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
}

func TestParseRejectsUnknownStageKind(t *testing.T) {
	bad := validDocYAML()
	bad = replaceOnce(bad, "kind: friction", "kind: not_a_stage")
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestBuildPipelineConstructsStagesInOrder(t *testing.T) {
	doc, err := Parse([]byte(validDocYAML()))
	require.NoError(t, err)

	p, err := doc.BuildPipeline()
	require.NoError(t, err)
	require.NotNil(t, p)

	f := &pipeline.Frame{FFBIn: 1, WheelSpeed: 2}
	require.NoError(t, p.Process(f))
	require.LessOrEqual(t, f.TorqueOut, float32(10))
	require.GreaterOrEqual(t, f.TorqueOut, float32(-10))
}

func TestSafetyServiceConfigConvertsUnits(t *testing.T) {
	doc, err := Parse([]byte(validDocYAML()))
	require.NoError(t, err)

	cfg := doc.SafetyServiceConfig()
	require.Equal(t, 5.0, cfg.SafeLimitNm)
	require.Equal(t, 15.0, cfg.HighLimitNm)
	require.Equal(t, uint16(500), cfg.RequiredHoldMs)
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}
