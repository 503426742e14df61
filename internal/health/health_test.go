package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func TestMonitorSamplesAndStoresLatest(t *testing.T) {
	m := NewMonitor(50, testSvc())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	time.Sleep(60 * time.Millisecond)
	cancel()

	_, ok := m.Latest()
	require.True(t, ok)
}

func TestMonitorReportsThermalFaultAboveLimit(t *testing.T) {
	svc := testSvc()
	m := NewMonitor(1000, svc)
	m.ThermalSource = func() (float32, bool) { return 95.0, true }

	m.sample()

	require.Equal(t, safety.StateFaulted, svc.State().Kind)
	require.Equal(t, safety.FaultThermalLimit, svc.State().Fault)
}

func TestMonitorDoesNotDoubleReportWhileAlreadyFaulted(t *testing.T) {
	svc := testSvc()
	m := NewMonitor(1000, svc)
	m.ThermalSource = func() (float32, bool) { return 95.0, true }

	m.sample()
	first := svc.State().OccurredAt

	m.sample()
	second := svc.State().OccurredAt
	require.Equal(t, first, second) // no re-trigger while already in the thermal fault
}
