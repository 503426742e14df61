package fault

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/telemetry"
)

// WaveformKind selects the shape SignalGenerator produces.
type WaveformKind int

const (
	WaveformConstant WaveformKind = iota
	WaveformSine
	WaveformSquare
	WaveformRamp
	WaveformCustom
)

// WaveformSpec configures a single NormalizedTelemetry field's
// synthetic drive signal.
type WaveformSpec struct {
	Kind       WaveformKind
	Base       float64
	Amplitude  float64       // Sine/Square
	Period     time.Duration // Sine/Square/Ramp
	RampTarget float64       // Ramp: value reached at t=Period, held after
	Custom     func(t time.Duration) float64
}

func (w WaveformSpec) valueAt(t time.Duration) float64 {
	switch w.Kind {
	case WaveformConstant:
		return w.Base
	case WaveformSine:
		if w.Period <= 0 {
			return w.Base
		}
		phase := 2 * math.Pi * float64(t) / float64(w.Period)
		return w.Base + w.Amplitude*math.Sin(phase)
	case WaveformSquare:
		if w.Period <= 0 {
			return w.Base
		}
		half := w.Period / 2
		if (t % w.Period) < half {
			return w.Base + w.Amplitude
		}
		return w.Base - w.Amplitude
	case WaveformRamp:
		if w.Period <= 0 {
			return w.RampTarget
		}
		frac := float64(t) / float64(w.Period)
		if frac > 1 {
			frac = 1
		}
		return w.Base + (w.RampTarget-w.Base)*frac
	case WaveformCustom:
		if w.Custom != nil {
			return w.Custom(t)
		}
		return w.Base
	}
	return w.Base
}

// SignalGenerator implements telemetry.Adapter, driving each
// NormalizedTelemetry field from an independent WaveformSpec. It
// exists so C4/C5 can be exercised against deterministic, repeatable
// telemetry instead of a live game.
type SignalGenerator struct {
	RateHz  int
	RPM     WaveformSpec
	Speed   WaveformSpec
	Slip    WaveformSpec
	FFB     WaveformSpec
	Gear    int8
	CarID   string
	TrackID string

	mu      sync.Mutex
	cancel  context.CancelFunc
	out     chan telemetry.NormalizedTelemetry
	running bool
}

func NewSignalGenerator(rateHz int) *SignalGenerator {
	return &SignalGenerator{RateHz: rateHz}
}

func (g *SignalGenerator) Start() (<-chan telemetry.NormalizedTelemetry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return g.out, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.out = make(chan telemetry.NormalizedTelemetry, 1)
	g.running = true

	go g.run(ctx)
	return g.out, nil
}

func (g *SignalGenerator) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}
	g.cancel()
	g.running = false
	close(g.out)
	return nil
}

func (g *SignalGenerator) run(ctx context.Context) {
	period := time.Second / time.Duration(g.RateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t := now.Sub(start)
			frame := telemetry.NormalizedTelemetry{
				FFBScalar: float32(clampRange(g.FFB.valueAt(t), -1, 1)),
				RPM:       float32(math.Max(0, g.RPM.valueAt(t))),
				SpeedMS:   float32(math.Max(0, g.Speed.valueAt(t))),
				SlipRatio: float32(clampRange(g.Slip.valueAt(t), 0, 1)),
				Gear:      g.Gear,
				CarID:     g.CarID,
				TrackID:   g.TrackID,
				Timestamp: now,
			}
			select {
			case g.out <- frame:
			default:
				// channel already holds an unread frame; drop in favor of
				// the newest value, matching the "stale is better than
				// blocking" contract of C9.
				select {
				case <-g.out:
				default:
				}
				g.out <- frame
			}
		}
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ToleranceWindow validates that an observed value falls within
// [expected-tolerance, expected+tolerance]. Used by scenario assertions
// to check device responses (e.g. clamped torque, ramp-down rate)
// against the behavior the safety/pipeline contract promises.
type ToleranceWindow struct {
	Expected  float64
	Tolerance float64
}

func (w ToleranceWindow) Contains(actual float64) bool {
	return actual >= w.Expected-w.Tolerance && actual <= w.Expected+w.Tolerance
}
