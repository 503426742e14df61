// Package config loads, validates, and builds runtime components from
// the declarative configuration document described in spec.md §6: tick
// rate, pipeline stage list, safety limits, FMEA thresholds, LED/haptics
// rate, and observability sample rates.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/pipeline"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
)

// FieldError is the typed validation error spec.md §6 requires: every
// rejected document names the offending field, never a bare error.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Reason)
}

// SafetyConfig mirrors safety.Config's fields with validation bounds
// and wire-friendly units (milliseconds instead of time.Duration).
type SafetyConfig struct {
	SafeTorqueNm       float64 `yaml:"safe_torque_nm" validate:"gte=0"`
	HighTorqueNm       float64 `yaml:"high_torque_nm" validate:"gtefield=SafeTorqueNm"`
	ChallengeTimeoutMs int     `yaml:"challenge_timeout_ms" validate:"gt=0"`
	ComboHoldMs        int     `yaml:"combo_hold_ms" validate:"gt=0"`
	RequiredCombo      uint8   `yaml:"required_combo"`
	HandsOffTimeoutMs  int     `yaml:"hands_off_timeout_ms" validate:"gt=0"`
	MinFaultDwellMs    int     `yaml:"min_fault_dwell_ms" validate:"gte=0"`
	SoftStopDecayMs    int     `yaml:"soft_stop_decay_ms" validate:"gt=0"`
}

// FMEAConfig mirrors safety.FaultThresholds with validation bounds.
type FMEAConfig struct {
	USBTimeoutMs               int     `yaml:"usb_timeout_ms" validate:"gt=0"`
	USBMaxConsecutiveFailures  int     `yaml:"usb_max_consecutive_failures" validate:"gt=0"`
	EncoderNaNWindowMs         int     `yaml:"encoder_nan_window_ms" validate:"gt=0"`
	EncoderMaxNaNCount         int     `yaml:"encoder_max_nan_count" validate:"gt=0"`
	ThermalLimitC              float64 `yaml:"thermal_limit_c" validate:"gt=0"`
	ThermalHysteresisC         float64 `yaml:"thermal_hysteresis_c" validate:"gte=0"`
	PluginTimeoutUs            int     `yaml:"plugin_timeout_us" validate:"gt=0"`
	PluginMaxOverruns          int     `yaml:"plugin_max_overruns" validate:"gt=0"`
	TimingViolationThresholdUs int     `yaml:"timing_violation_threshold_us" validate:"gt=0"`
	TimingMaxViolations        int     `yaml:"timing_max_violations" validate:"gt=0"`
}

// StageConfig is one entry of the pipeline stage list. Kind selects
// which fields are meaningful, mirroring the tagged-struct convention
// used throughout the core's domain types.
type StageConfig struct {
	Kind string `yaml:"kind" validate:"required,oneof=reconstruction friction inertia notch slew curve bump_stop damper torque_cap hands_off"`

	// reconstruction
	Taps int `yaml:"taps,omitempty" validate:"omitempty,gte=1"`

	// friction, damper
	Gain          float32 `yaml:"gain,omitempty"`
	SpeedAdaptive bool    `yaml:"speed_adaptive,omitempty"`
	AdaptRate     float32 `yaml:"adapt_rate,omitempty"`

	// notch
	CenterHz float64 `yaml:"center_hz,omitempty"`
	Q        float64 `yaml:"q,omitempty"`

	// slew
	MaxSlewPerSec float32 `yaml:"max_slew_per_sec,omitempty"`

	// curve
	Points []pipeline.CurvePoint `yaml:"points,omitempty"`

	// bump_stop
	RangeMin            float32 `yaml:"range_min,omitempty"`
	RangeMax            float32 `yaml:"range_max,omitempty"`
	SpringGain          float32 `yaml:"spring_gain,omitempty"`
	ProgressiveExponent float32 `yaml:"progressive_exponent,omitempty"`
	Disabled            bool    `yaml:"disabled,omitempty"`

	// torque_cap
	Limit float32 `yaml:"limit,omitempty"`

	// hands_off
	Threshold   float32 `yaml:"threshold,omitempty"`
	TimeoutSecs float32 `yaml:"timeout_secs,omitempty"`
}

// LEDHapticsConfig configures the C7 engine's rate and RPM-bar shape.
type LEDHapticsConfig struct {
	RateHz           int       `yaml:"rate_hz" validate:"gte=60,lte=200"`
	RpmBandMax       float64   `yaml:"rpm_band_max" validate:"gt=0"`
	HysteresisPct    float64   `yaml:"hysteresis_pct" validate:"gte=0,lte=1"`
	Thresholds       []float64 `yaml:"thresholds" validate:"min=1,dive,gte=0,lte=1"`
	SlipThreshold    float64   `yaml:"slip_threshold" validate:"gte=0,lte=1"`
	RPMThreshold     float64   `yaml:"rpm_threshold" validate:"gte=0"`
	BrakingSlipDelta float64   `yaml:"braking_slip_delta" validate:"gte=0,lte=1"`
	GlobalGain       float64   `yaml:"global_gain" validate:"gte=0"`
}

// ObservabilityConfig governs sample rates for polled subsystems not on
// the RT hot path.
type ObservabilityConfig struct {
	HealthSampleHz int `yaml:"health_sample_hz" validate:"gt=0,lte=100"`
	MetricsPort    int `yaml:"metrics_port" validate:"gt=0,lte=65535"`
}

// Document is the full declarative configuration for a ffbd instance.
type Document struct {
	TickRateHz      int                 `yaml:"tick_rate_hz" validate:"gte=100,lte=1000"`
	MaxTickJitterUs int                 `yaml:"max_tick_jitter_us" validate:"gt=0"`
	KprobeSymbol    string              `yaml:"kprobe_symbol" validate:"required"`
	Pipeline        []StageConfig       `yaml:"pipeline" validate:"required,min=1,dive"`
	Safety          SafetyConfig        `yaml:"safety" validate:"required"`
	FMEA            FMEAConfig          `yaml:"fmea" validate:"required"`
	LEDHaptics      LEDHapticsConfig    `yaml:"led_haptics" validate:"required"`
	Observability   ObservabilityConfig `yaml:"observability" validate:"required"`
}

var validate = validator.New()

// Load reads and parses a YAML document from path and validates it.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML document already held in memory.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate runs struct-tag validation and translates the first failure
// into a *FieldError.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok || len(verrs) == 0 {
			return &FieldError{Field: "document", Reason: err.Error()}
		}
		fe := verrs[0]
		return &FieldError{
			Field:  fe.Namespace(),
			Reason: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
		}
	}
	return nil
}

// SafetyServiceConfig converts the document's Safety/FMEA sections into
// a safety.Config ready for safety.NewService.
func (d *Document) SafetyServiceConfig() safety.Config {
	return safety.Config{
		SafeLimitNm:      d.Safety.SafeTorqueNm,
		HighLimitNm:      d.Safety.HighTorqueNm,
		ChallengeTimeout: time.Duration(d.Safety.ChallengeTimeoutMs) * time.Millisecond,
		RequiredCombo:    d.Safety.RequiredCombo,
		RequiredHoldMs:   uint16(d.Safety.ComboHoldMs),
		MinFaultDwell:    time.Duration(d.Safety.MinFaultDwellMs) * time.Millisecond,
		SoftStopDecay:    time.Duration(d.Safety.SoftStopDecayMs) * time.Millisecond,
		Thresholds: safety.FaultThresholds{
			USBTimeoutMs:               uint64(d.FMEA.USBTimeoutMs),
			USBMaxConsecutiveFailures:  uint32(d.FMEA.USBMaxConsecutiveFailures),
			EncoderNaNWindowMs:         uint64(d.FMEA.EncoderNaNWindowMs),
			EncoderMaxNaNCount:         uint32(d.FMEA.EncoderMaxNaNCount),
			ThermalLimitCelsius:        float32(d.FMEA.ThermalLimitC),
			ThermalHysteresisCelsius:   float32(d.FMEA.ThermalHysteresisC),
			PluginTimeoutUs:            uint64(d.FMEA.PluginTimeoutUs),
			PluginMaxOverruns:          uint32(d.FMEA.PluginMaxOverruns),
			TimingViolationThresholdUs: uint64(d.FMEA.TimingViolationThresholdUs),
			TimingMaxViolations:        uint32(d.FMEA.TimingMaxViolations),
		},
	}
}

// BuildPipeline constructs a pipeline.Pipeline from the document's stage
// list, in order, failing with a *FieldError naming the offending stage
// index if a kind is unrecognized.
func (d *Document) BuildPipeline() (*pipeline.Pipeline, error) {
	tickPeriodSecs := float32(1) / float32(d.TickRateHz)
	sampleRateHz := float64(d.TickRateHz)

	stages := make([]pipeline.Stage, 0, len(d.Pipeline))
	for i, sc := range d.Pipeline {
		switch sc.Kind {
		case "reconstruction":
			stages = append(stages, pipeline.NewReconstruction(sc.Taps))
		case "friction":
			stages = append(stages, &pipeline.Friction{Gain: sc.Gain, SpeedAdaptive: sc.SpeedAdaptive, AdaptRate: sc.AdaptRate})
		case "inertia":
			stages = append(stages, &pipeline.Inertia{Gain: sc.Gain, TickPeriodSecs: tickPeriodSecs})
		case "notch":
			stages = append(stages, pipeline.NewNotch(sc.CenterHz, sc.Q, sampleRateHz))
		case "slew":
			stages = append(stages, &pipeline.SlewRate{MaxSlewPerSec: sc.MaxSlewPerSec, TickPeriodSecs: tickPeriodSecs})
		case "curve":
			stages = append(stages, &pipeline.Curve{Points: sc.Points})
		case "bump_stop":
			stages = append(stages, &pipeline.BumpStop{
				RangeMin:            sc.RangeMin,
				RangeMax:            sc.RangeMax,
				SpringGain:          sc.SpringGain,
				ProgressiveExponent: sc.ProgressiveExponent,
				Disabled:            sc.Disabled,
				TickPeriodSecs:      tickPeriodSecs,
			})
		case "damper":
			stages = append(stages, &pipeline.Damper{Gain: sc.Gain, SpeedAdaptive: sc.SpeedAdaptive, AdaptRate: sc.AdaptRate})
		case "torque_cap":
			stages = append(stages, &pipeline.TorqueCap{Limit: sc.Limit})
		case "hands_off":
			stages = append(stages, &pipeline.HandsOffDetector{Threshold: sc.Threshold, TimeoutSecs: sc.TimeoutSecs, TickPeriodSecs: tickPeriodSecs})
		default:
			return nil, &FieldError{Field: fmt.Sprintf("pipeline[%d].kind", i), Reason: fmt.Sprintf("unrecognized stage kind %q", sc.Kind)}
		}
	}
	return pipeline.New(stages...), nil
}
