// Package health runs the ~10 Hz background host-health task from
// spec.md §5: CPU and memory sampling independent of the RT worker,
// feeding a Celsius reading into the FMEA thermal detector when no
// dedicated device thermal channel is present.
package health

import (
	"context"
	"sync/atomic"
	"time"

	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	psutilmem "github.com/shirou/gopsutil/v3/mem"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
)

// Sample is one host-health reading.
type Sample struct {
	CPUPercent        float64
	MemUsedPercent    float64
	TimestampUnixNano int64
}

// Monitor samples host CPU/memory at RateHz and, when ThermalSource is
// set, feeds its reading into Safety's FMEA thermal detector — the
// host-CPU-package temperature stands in for the device's own sensor
// when running against the simulated transport.
type Monitor struct {
	RateHz        int
	ThermalSource func() (celsius float32, ok bool)
	Safety        *safety.Service

	latest atomic.Pointer[Sample]
}

func NewMonitor(rateHz int, svc *safety.Service) *Monitor {
	return &Monitor{RateHz: rateHz, Safety: svc}
}

// Latest returns the most recent sample, if any.
func (m *Monitor) Latest() (Sample, bool) {
	p := m.latest.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

// Run samples at RateHz until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	period := time.Second / time.Duration(m.RateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	var s Sample
	s.TimestampUnixNano = time.Now().UnixNano()

	if pcts, err := psutilcpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if vm, err := psutilmem.VirtualMemory(); err == nil {
		s.MemUsedPercent = vm.UsedPercent
	}
	m.latest.Store(&s)

	if m.ThermalSource == nil || m.Safety == nil {
		return
	}
	celsius, ok := m.ThermalSource()
	if !ok {
		return
	}
	alreadyHot := m.Safety.State().Kind == safety.StateFaulted && m.Safety.State().Fault == safety.FaultThermalLimit
	if kind, hot := m.Safety.Detectors().DetectThermalFault(celsius, alreadyHot); hot {
		m.Safety.ReportFault(kind, 0)
	}
}
