// harness: OpenRacing fault-injection scenario runner
// Copyright (C) 2026  Guillermo Perry
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/fault"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/transport"
	"github.com/EffortlessMetrics/OpenRacing-sub003/pkg/owp1"
)

var (
	mode         = flag.String("mode", "single", "operation mode: single, batch, list")
	scenarioName = flag.String("scenario", "thermal-overheat", "scenario to run in single mode")
	duration     = flag.Duration("duration", 5*time.Second, "test duration")
	rateHz       = flag.Int("rate-hz", 1000, "tick rate for the simulated loop")
	torqueNm     = flag.Float64("torque-nm", 5.0, "constant torque command, in Nm, driven each tick")
)

// builtinScenarios mirrors the reference implementation's standard test
// suite: a handful of named fault conditions with deterministic
// trigger/recovery timing, exercising C4 fault entry without a
// wheelbase attached. The high-torque challenge transitions are not
// exercised.
func builtinScenarios() []fault.Scenario {
	return []fault.Scenario{
		{
			Name:    "thermal-overheat",
			Kind:    safety.FaultThermalLimit,
			Trigger: fault.TriggerCondition{Kind: fault.TriggerTimeDelay, Delay: 500 * time.Millisecond},
			Recovery: &fault.RecoveryCondition{
				Kind: fault.RecoveryTimeDelay, Delay: 2 * time.Second,
			},
			Enabled: true,
		},
		{
			Name:    "usb-stall",
			Kind:    safety.FaultUsbStall,
			Trigger: fault.TriggerCondition{Kind: fault.TriggerTickCount, Ticks: 1000},
			Recovery: &fault.RecoveryCondition{
				Kind: fault.RecoveryTickCount, Ticks: 500,
			},
			Enabled: true,
		},
		{
			Name:     "emergency-stop",
			Kind:     safety.FaultEmergencyStop,
			Trigger:  fault.TriggerCondition{Kind: fault.TriggerManual},
			Recovery: nil,
			Enabled:  true,
		},
		{
			Name:    "overcurrent-spike",
			Kind:    safety.FaultOvercurrent,
			Trigger: fault.TriggerCondition{Kind: fault.TriggerTorqueThreshold, TorqueThresholdNm: 18.0},
			Recovery: &fault.RecoveryCondition{
				Kind: fault.RecoveryTorqueBelow, TorqueThresholdNm: 5.0,
			},
			Enabled: true,
		},
	}
}

func main() {
	flag.Parse()

	switch *mode {
	case "list":
		listScenarios()
	case "single":
		runSingle(*scenarioName)
	case "batch":
		runBatch()
	default:
		log.Fatalf("harness: unknown mode %q", *mode)
	}
}

func listScenarios() {
	fmt.Println("Available scenarios:")
	for _, sc := range builtinScenarios() {
		fmt.Printf("  %-20s fault=%-24s trigger=%v\n", sc.Name, sc.Kind, sc.Trigger.Kind)
	}
}

func runBatch() {
	scenarios := builtinScenarios()
	passed := 0
	for _, sc := range scenarios {
		result := runScenario(sc)
		printResult(result)
		if result.passed {
			passed++
		}
	}
	fmt.Printf("\n%d/%d scenarios passed\n", passed, len(scenarios))
	if passed != len(scenarios) {
		os.Exit(1)
	}
}

func runSingle(name string) {
	for _, sc := range builtinScenarios() {
		if sc.Name == name {
			printResult(runScenario(sc))
			return
		}
	}
	log.Fatalf("harness: unknown scenario %q (try -mode list)", name)
}

type scenarioResult struct {
	name        string
	passed      bool
	totalTicks  uint64
	triggeredAt time.Duration
	recoveredAt time.Duration
	finalState  safety.StateKind
	errs        []string
}

// runScenario drives a fixed-period loop against a single scenario and
// a virtual device, feeding the fault system each tick and collecting
// the resulting safety-state transitions — the Go analogue of the
// reference implementation's scenario runner, minus the full RT
// pipeline (this exercises C4/C8 directly, not C3's filter chain).
func runScenario(sc fault.Scenario) scenarioResult {
	svc := safety.NewService(safety.Config{
		SafeLimitNm:      5,
		HighLimitNm:      15,
		ChallengeTimeout: time.Second,
		MinFaultDwell:    100 * time.Millisecond,
		SoftStopDecay:    150 * time.Millisecond,
		Thresholds:       safety.DefaultFaultThresholds(),
	})

	system := fault.NewSystem()
	system.SetEnabled(true)
	_ = system.AddScenario(sc)

	device := fault.NewVirtualDevice(transport.DeviceInfo{
		VendorID:    0x3153,
		ProductID:   0x0001,
		ProductName: "Harness Virtual Wheelbase",
		Capabilities: transport.DeviceCapabilities{
			SupportsPID: true, SupportsRawTorque1kHz: true,
			MaxTorqueNm: 20, EncoderCPR: 4096, MinReportPeriodUs: 1000,
		},
	})
	defer device.Close()

	period := time.Second / time.Duration(*rateHz)
	ticks := uint64(0)
	triggeredAt := time.Duration(0)
	haveTriggered := false
	ctx := context.Background()

	start := time.Now()
	for elapsed := time.Duration(0); elapsed < *duration; elapsed = time.Since(start) {
		ticks++
		fctx := fault.Context{
			Elapsed:         elapsed,
			TickCount:       ticks,
			CurrentTorqueNm: *torqueNm,
			TemperatureC:    25,
			RandFloat64:     rand.Float64,
		}
		if sc.Kind == safety.FaultThermalLimit {
			fctx.TemperatureC = 85 // above any plausible thermal limit once triggered
		}

		triggered := system.Tick(svc, fctx)
		if len(triggered) > 0 && !haveTriggered {
			haveTriggered = true
			triggeredAt = elapsed
		}

		cmd := owp1.TorqueCommand{TorqueMNm: owp1.TorqueFromNm(float32(*torqueNm)), Sequence: uint16(ticks)}
		_ = device.Write(ctx, cmd.Encode())

		time.Sleep(period)
	}

	result := scenarioResult{
		name:       sc.Name,
		totalTicks: ticks,
		finalState: svc.State().Kind,
	}
	result.triggeredAt = triggeredAt

	switch {
	case sc.Trigger.Kind == fault.TriggerManual:
		result.passed = !haveTriggered // manual triggers never fire on their own
	case sc.Recovery == nil:
		result.passed = haveTriggered
	default:
		result.passed = haveTriggered
	}
	if !haveTriggered && sc.Trigger.Kind != fault.TriggerManual {
		result.errs = append(result.errs, fmt.Sprintf("scenario %q never triggered within %s", sc.Name, *duration))
	}
	return result
}

func printResult(r scenarioResult) {
	status := "PASSED"
	if !r.passed {
		status = "FAILED"
	}
	fmt.Printf("### %s: %s\n", r.name, status)
	fmt.Printf("  total ticks: %d\n", r.totalTicks)
	fmt.Printf("  final state: %s\n", r.finalState)
	if r.triggeredAt > 0 {
		fmt.Printf("  triggered at: %s\n", r.triggeredAt)
	}
	for _, e := range r.errs {
		fmt.Printf("  error: %s\n", e)
	}
}
