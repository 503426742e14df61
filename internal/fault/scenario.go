// Package fault implements the C8 fault-injection and test harness: a
// configurable set of scenarios that trigger and clear faults under
// programmable conditions, a virtual device standing in for real
// hardware, and synthetic telemetry generators, so the safety state
// machine and RT loop can be exercised deterministically without a
// wheelbase attached.
package fault

import (
	"fmt"
	"time"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
)

// TriggerKind tags the active member of TriggerCondition.
type TriggerKind int

const (
	TriggerTimeDelay TriggerKind = iota
	TriggerTickCount
	TriggerTorqueThreshold
	TriggerTemperatureThreshold
	TriggerManual
	TriggerRandomProbability
)

// TriggerCondition is a tagged condition that arms a Scenario.
type TriggerCondition struct {
	Kind TriggerKind

	Delay             time.Duration // TriggerTimeDelay
	Ticks             uint64        // TriggerTickCount
	TorqueThresholdNm float64       // TriggerTorqueThreshold
	TemperatureC      float64       // TriggerTemperatureThreshold
	Probability       float64       // TriggerRandomProbability, [0,1)
}

// RecoveryKind tags the active member of RecoveryCondition.
type RecoveryKind int

const (
	RecoveryTimeDelay RecoveryKind = iota
	RecoveryTickCount
	RecoveryTorqueBelow
	RecoveryTemperatureBelow
	RecoveryManual
)

// RecoveryCondition is a tagged condition that clears a triggered
// Scenario. A nil *RecoveryCondition means the fault is permanent
// until manually recovered.
type RecoveryCondition struct {
	Kind RecoveryKind

	Delay             time.Duration // RecoveryTimeDelay
	Ticks             uint64        // RecoveryTickCount
	TorqueThresholdNm float64       // RecoveryTorqueBelow
	TemperatureC      float64       // RecoveryTemperatureBelow
}

// Scenario is a named, configurable fault-injection rule.
type Scenario struct {
	Name      string
	Kind      safety.FaultKind
	Trigger   TriggerCondition
	Recovery  *RecoveryCondition
	Enabled   bool
}

// Context carries the per-tick signals scenarios evaluate against.
type Context struct {
	Elapsed          time.Duration
	TickCount        uint64
	CurrentTorqueNm  float64
	TemperatureC     float64
	RandFloat64      func() float64 // source of randomness for TriggerRandomProbability; required if used
}

type scenarioState struct {
	scenario    Scenario
	triggered   bool
	triggerTick uint64
	triggerAt   time.Duration
	recovered   bool
}

func newScenarioState(s Scenario) *scenarioState {
	return &scenarioState{scenario: s}
}

func (st *scenarioState) checkTrigger(ctx Context) bool {
	if st.triggered || !st.scenario.Enabled {
		return false
	}
	var fire bool
	switch st.scenario.Trigger.Kind {
	case TriggerTimeDelay:
		fire = ctx.Elapsed >= st.scenario.Trigger.Delay
	case TriggerTickCount:
		fire = ctx.TickCount >= st.scenario.Trigger.Ticks
	case TriggerTorqueThreshold:
		fire = absf(ctx.CurrentTorqueNm) > st.scenario.Trigger.TorqueThresholdNm
	case TriggerTemperatureThreshold:
		fire = ctx.TemperatureC > st.scenario.Trigger.TemperatureC
	case TriggerManual:
		fire = false
	case TriggerRandomProbability:
		if ctx.RandFloat64 != nil {
			fire = ctx.RandFloat64() < st.scenario.Trigger.Probability
		}
	}
	if fire {
		st.triggered = true
		st.triggerTick = ctx.TickCount
		st.triggerAt = ctx.Elapsed
	}
	return fire
}

func (st *scenarioState) checkRecovery(ctx Context) bool {
	if !st.triggered || st.recovered {
		return false
	}
	rc := st.scenario.Recovery
	if rc == nil {
		return false // permanent fault, manual clear only
	}
	var recover bool
	switch rc.Kind {
	case RecoveryTimeDelay:
		recover = ctx.Elapsed-st.triggerAt >= rc.Delay
	case RecoveryTickCount:
		recover = ctx.TickCount-st.triggerTick >= rc.Ticks
	case RecoveryTorqueBelow:
		recover = absf(ctx.CurrentTorqueNm) < rc.TorqueThresholdNm
	case RecoveryTemperatureBelow:
		recover = ctx.TemperatureC < rc.TemperatureC
	case RecoveryManual:
		recover = false
	}
	if recover {
		st.recovered = true
	}
	return recover
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// System drives a set of Scenarios against a shared safety.Service,
// calling ReportFault/ClearFault as scenarios trigger and recover.
type System struct {
	enabled   bool
	scenarios map[string]*scenarioState
	startTime time.Duration // Context.Elapsed at construction, for reference only
}

// NewSystem creates a System. Disabled by default, matching the
// fault-injection-off-by-default posture a production build requires.
func NewSystem() *System {
	return &System{scenarios: make(map[string]*scenarioState)}
}

func (s *System) SetEnabled(enabled bool) {
	s.enabled = enabled
	if !enabled {
		for _, st := range s.scenarios {
			st.triggered = false
			st.recovered = false
		}
	}
}

func (s *System) IsEnabled() bool { return s.enabled }

func (s *System) AddScenario(sc Scenario) error {
	if _, exists := s.scenarios[sc.Name]; exists {
		return fmt.Errorf("fault: scenario %q already exists", sc.Name)
	}
	s.scenarios[sc.Name] = newScenarioState(sc)
	return nil
}

func (s *System) RemoveScenario(name string) error {
	if _, ok := s.scenarios[name]; !ok {
		return fmt.Errorf("fault: scenario %q not found", name)
	}
	delete(s.scenarios, name)
	return nil
}

// TriggerManually fires a Manual-trigger scenario immediately.
func (s *System) TriggerManually(name string, svc *safety.Service, ctx Context) error {
	if !s.enabled {
		return fmt.Errorf("fault: injection disabled")
	}
	st, ok := s.scenarios[name]
	if !ok {
		return fmt.Errorf("fault: scenario %q not found", name)
	}
	if st.triggered {
		return fmt.Errorf("fault: scenario %q already triggered", name)
	}
	if st.scenario.Trigger.Kind != TriggerManual {
		return fmt.Errorf("fault: scenario %q is not manually triggerable", name)
	}
	st.triggered = true
	st.triggerTick = ctx.TickCount
	st.triggerAt = ctx.Elapsed
	svc.ReportFault(st.scenario.Kind, ctx.CurrentTorqueNm)
	return nil
}

// RecoverManually clears a Manual-recovery scenario immediately.
func (s *System) RecoverManually(name string, svc *safety.Service) error {
	st, ok := s.scenarios[name]
	if !ok {
		return fmt.Errorf("fault: scenario %q not found", name)
	}
	if !st.triggered || st.recovered {
		return fmt.Errorf("fault: scenario %q is not in a recoverable state", name)
	}
	if st.scenario.Recovery == nil || st.scenario.Recovery.Kind != RecoveryManual {
		return fmt.Errorf("fault: scenario %q does not support manual recovery", name)
	}
	st.recovered = true
	return svc.ClearFault()
}

// Tick evaluates every enabled scenario's trigger/recovery conditions
// against ctx, driving svc, and returns the FaultKinds newly triggered
// this tick.
func (s *System) Tick(svc *safety.Service, ctx Context) []safety.FaultKind {
	if !s.enabled {
		return nil
	}
	var triggered []safety.FaultKind
	for _, st := range s.scenarios {
		if st.checkTrigger(ctx) {
			triggered = append(triggered, st.scenario.Kind)
			svc.ReportFault(st.scenario.Kind, ctx.CurrentTorqueNm)
		}
		if st.checkRecovery(ctx) {
			_ = svc.ClearFault() // a scenario recovering does not guarantee ClearFault's dwell has elapsed; ignore
		}
	}
	return triggered
}

func (s *System) IsTriggered(name string) bool {
	st, ok := s.scenarios[name]
	return ok && st.triggered && !st.recovered
}
