package capability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/transport"
)

func rawTorqueCaps(minPeriodUs int) transport.DeviceCapabilities {
	return transport.DeviceCapabilities{
		SupportsPID:           true,
		SupportsRawTorque1kHz: true,
		MaxTorqueNm:           20,
		EncoderCPR:            4096,
		MinReportPeriodUs:     minPeriodUs,
	}
}

func TestNegotiateRawTorqueNoGameInfo(t *testing.T) {
	d := Negotiate(rawTorqueCaps(1000), nil)
	require.Equal(t, RawTorque, d.Mode)
	require.Equal(t, 1000, d.UpdateRateHz)
}

func TestNegotiateRawTorqueGameDisqualifies(t *testing.T) {
	game := &GameCompatibility{SupportsRobustFFB: false, Preferred: NoPreference}
	d := Negotiate(rawTorqueCaps(1000), game)
	require.Equal(t, PidPassthrough, d.Mode)
}

func TestNegotiateRawTorqueGamePrefersIt(t *testing.T) {
	game := &GameCompatibility{SupportsRobustFFB: false, Preferred: PreferRawTorque}
	d := Negotiate(rawTorqueCaps(1000), game)
	require.Equal(t, RawTorque, d.Mode)
}

func TestNegotiateUpdateRateFlooredAndCapped(t *testing.T) {
	require.Equal(t, 1000, Negotiate(rawTorqueCaps(500), nil).UpdateRateHz)  // 2000hz -> capped
	require.Equal(t, 100, Negotiate(rawTorqueCaps(50000), nil).UpdateRateHz) // 20hz -> floored
}

func TestNegotiatePidPassthroughFallback(t *testing.T) {
	caps := transport.DeviceCapabilities{
		SupportsPID:       true,
		MaxTorqueNm:       10,
		EncoderCPR:        1024,
		MinReportPeriodUs: 16000,
	}
	d := Negotiate(caps, nil)
	require.Equal(t, PidPassthrough, d.Mode)
	require.Equal(t, 60, d.UpdateRateHz)
}

func TestNegotiateUnsupported(t *testing.T) {
	caps := transport.DeviceCapabilities{
		MaxTorqueNm:       0,
		EncoderCPR:        1024,
		MinReportPeriodUs: 16000,
	}
	d := Negotiate(caps, nil)
	require.Equal(t, Unsupported, d.Mode)
}

func TestNegotiateIsDeterministic(t *testing.T) {
	caps := rawTorqueCaps(1100)
	d1 := Negotiate(caps, nil)
	d2 := Negotiate(caps, nil)
	require.Equal(t, d1, d2)
}
