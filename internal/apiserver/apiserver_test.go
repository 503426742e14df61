package apiserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/config"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/rtloop"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
)

func testSvc() *safety.Service {
	return safety.NewService(safety.Config{
		SafeLimitNm:      5,
		HighLimitNm:      15,
		ChallengeTimeout: time.Second,
		MinFaultDwell:    10 * time.Millisecond,
		SoftStopDecay:    50 * time.Millisecond,
		Thresholds:       safety.DefaultFaultThresholds(),
	})
}

func testDoc() *config.Document {
	return &config.Document{
		TickRateHz:   1000,
		KprobeSymbol: "vfs_write",
		Pipeline:     []config.StageConfig{{Kind: "torque_cap", Limit: 10}},
		Safety: config.SafetyConfig{
			SafeTorqueNm: 5, HighTorqueNm: 15, ChallengeTimeoutMs: 1000,
			ComboHoldMs: 500, HandsOffTimeoutMs: 2000, SoftStopDecayMs: 150,
		},
		FMEA: config.FMEAConfig{
			USBTimeoutMs: 100, USBMaxConsecutiveFailures: 3,
			EncoderNaNWindowMs: 100, EncoderMaxNaNCount: 3,
			ThermalLimitC: 80, ThermalHysteresisC: 5,
			PluginTimeoutUs: 500, PluginMaxOverruns: 3,
			TimingViolationThresholdUs: 1200, TimingMaxViolations: 5,
		},
		LEDHaptics: config.LEDHapticsConfig{
			RateHz: 100, RpmBandMax: 8000, HysteresisPct: 0.05,
			Thresholds: []float64{0.5, 0.75, 0.9}, SlipThreshold: 0.2,
			RPMThreshold: 6500, BrakingSlipDelta: 0.15, GlobalGain: 1,
		},
		Observability: config.ObservabilityConfig{HealthSampleHz: 10, MetricsPort: 8090},
	}
}

func newTestServer() *Server {
	return NewServer("127.0.0.1:0", rtloop.NewMetrics(), testSvc(), testDoc())
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReportsHealthyByDefault(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, "SafeTorque", resp.SafetyState)
}

func TestHandleHealthReportsFaultedAfterReportFault(t *testing.T) {
	svc := testSvc()
	s := NewServer("127.0.0.1:0", rtloop.NewMetrics(), svc, testDoc())
	svc.ReportFault(safety.FaultThermalLimit, 2.0)

	rec := doRequest(t, s, "/api/v1/health")
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "faulted", resp.Status)
	require.Equal(t, "Faulted", resp.SafetyState)
}

func TestHandleSafetyOmitsFaultWhenNotFaulted(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, "/api/v1/safety")

	var resp SafetyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "SafeTorque", resp.State)
	require.Empty(t, resp.Fault)
}

func TestHandleSafetyIncludesFaultKindWhenFaulted(t *testing.T) {
	svc := testSvc()
	s := NewServer("127.0.0.1:0", rtloop.NewMetrics(), svc, testDoc())
	svc.ReportFault(safety.FaultEncoderNaN, 0)

	rec := doRequest(t, s, "/api/v1/safety")
	var resp SafetyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Faulted", resp.State)
	require.Equal(t, "EncoderNaN", resp.Fault)
}

func TestHandleMetricsReflectsRecordedCounters(t *testing.T) {
	metrics := rtloop.NewMetrics()
	metrics.RecordTick(1500, false)
	metrics.RecordTick(2000, true)
	metrics.RecordFault("ThermalLimit")
	metrics.RecordHighTorqueGrant()

	s := NewServer("127.0.0.1:0", metrics, testSvc(), testDoc())
	rec := doRequest(t, s, "/api/v1/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(2), resp.TotalTicks)
	require.Equal(t, uint64(1), resp.MissedTicks)
	require.InDelta(t, 0.5, resp.MissedTickRate, 1e-9)
	require.Equal(t, uint64(1), resp.FaultEventsTotal["ThermalLimit"])
	require.Equal(t, uint64(1), resp.HighTorqueGrants)
	require.NotEmpty(t, resp.SessionID)
}

func TestHandleConfigReturnsDocumentSnapshot(t *testing.T) {
	s := newTestServer()
	rec := doRequest(t, s, "/api/v1/config")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp config.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1000, resp.TickRateHz)
	require.Equal(t, "vfs_write", resp.KprobeSymbol)
}
