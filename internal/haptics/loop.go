package haptics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/telemetry"
)

// Loop runs the LED/haptics engine at a configurable rate independent
// of the RT worker (spec §5: "a lower-priority worker for C7 at
// 60-200 Hz"). Outputs land in single-slot mailboxes, never a
// channel a slow consumer could back up.
type Loop struct {
	RateHz int

	slot    *telemetry.LatestSlot[telemetry.NormalizedTelemetry]
	mapper  *LEDMapper
	router  *Router
	ledOut  *telemetry.LatestSlot[LEDPattern]
	hapOut  *telemetry.LatestSlot[[]HapticsPattern]
	braking func() bool

	stop atomic.Bool
}

func NewLoop(rateHz int, slot *telemetry.LatestSlot[telemetry.NormalizedTelemetry], mapper *LEDMapper, router *Router, braking func() bool) *Loop {
	return &Loop{
		RateHz:  rateHz,
		slot:    slot,
		mapper:  mapper,
		router:  router,
		ledOut:  telemetry.NewLatestSlot[LEDPattern](),
		hapOut:  telemetry.NewLatestSlot[[]HapticsPattern](),
		braking: braking,
	}
}

func (l *Loop) LEDOutput() *telemetry.LatestSlot[LEDPattern]           { return l.ledOut }
func (l *Loop) HapticsOutput() *telemetry.LatestSlot[[]HapticsPattern] { return l.hapOut }

func (l *Loop) Stop() { l.stop.Store(true) }

func (l *Loop) Run(ctx context.Context) error {
	period := time.Second / time.Duration(l.RateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if l.stop.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	frame, ok := l.slot.Load()
	if !ok {
		return
	}
	l.ledOut.Store(l.mapper.Map(frame))
	braking := l.braking != nil && l.braking()
	l.hapOut.Store(l.router.Route(frame, braking))
}
