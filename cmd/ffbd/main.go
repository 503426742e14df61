// ffbd: OpenRacing Force-Feedback Daemon
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
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/apiserver"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/capability"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/config"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/fault"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/haptics"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/health"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/pipeline"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/rtloop"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/safety"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/telemetry"
	"github.com/EffortlessMetrics/OpenRacing-sub003/internal/transport"
)

const portFile = "/tmp/ffbd.port"

// sessions remembers the C6 negotiation decision per device session;
// transport owns it because it is the component that knows when a
// physical device session ends and the cache must be invalidated.
var sessions = transport.NewSessionCache()

func writePortFile(port int) error {
	log.Printf("writing API port %d to %s", port, portFile)
	return os.WriteFile(portFile, []byte(fmt.Sprintf("%d", port)), 0644)
}

func cleanupPortFile() {
	os.Remove(portFile)
}

var (
	configPath  = flag.String("config", "", "path to the YAML configuration document (required)")
	apiAddr     = flag.String("api-addr", ":8090", "address for the metrics/health/config HTTP API")
	enableAPI   = flag.Bool("api", true, "enable the HTTP API server")
	vendorID    = flag.Uint("vendor-id", 0x3153, "USB vendor ID of the wheelbase to open")
	productID   = flag.Uint("product-id", 0x0001, "USB product ID of the wheelbase to open")
	virtual     = flag.Bool("virtual", false, "use an in-process virtual device instead of real USB hardware")
	maxNominal  = flag.Float64("max-nominal-nm", 20.0, "torque, in Nm, that pipeline output of 1.0 maps to before the safety clamp")
)

func main() {
	flag.Parse()

	if *configPath == "" {
		log.Fatal("ffbd: -config is required")
	}

	doc, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("ffbd: failed to load configuration: %v", err)
	}
	log.Printf("ffbd: loaded configuration from %s (tick rate %d Hz, %d pipeline stages)",
		*configPath, doc.TickRateHz, len(doc.Pipeline))

	p, err := doc.BuildPipeline()
	if err != nil {
		log.Fatalf("ffbd: failed to build pipeline: %v", err)
	}
	handle := pipeline.NewHandle(p)

	svc := safety.NewService(doc.SafetyServiceConfig())
	svc.OnFault(func(kind safety.FaultKind) {
		log.Printf("ffbd: fault reported: %s", kind)
	})
	svc.OnRecovery(func() {
		log.Printf("ffbd: fault cleared, back to SafeTorque")
	})

	device, err := openDevice()
	if err != nil {
		log.Fatalf("ffbd: failed to open device: %v", err)
	}
	defer device.Close()
	log.Printf("ffbd: device ready: %s", device.Info().ProductName)

	decision := capability.Negotiate(device.Info().Capabilities, nil)
	sessions.Set(device.Info().Path, decision)
	if decision.Mode == capability.Unsupported {
		log.Fatalf("ffbd: device %s does not support a usable operating mode", device.Info().ProductName)
	}
	log.Printf("ffbd: negotiated mode=%s update-rate=%dHz", decision.Mode, decision.UpdateRateHz)

	tickRateHz := doc.TickRateHz
	if decision.UpdateRateHz < tickRateHz {
		tickRateHz = decision.UpdateRateHz
	}

	teleSlot := telemetry.NewLatestSlot[telemetry.NormalizedTelemetry]()

	loop := rtloop.NewLoop(rtloop.Config{
		Period:       time.Second / time.Duration(tickRateHz),
		MaxNominalNm: *maxNominal,
		KprobeSymbol: doc.KprobeSymbol,
	}, device, handle, svc, teleSlot)

	ledMapper := haptics.NewLEDMapper(doc.LEDHaptics.RpmBandMax, doc.LEDHaptics.HysteresisPct, doc.LEDHaptics.Thresholds)
	router := haptics.NewRouter(doc.LEDHaptics.SlipThreshold, doc.LEDHaptics.RPMThreshold, doc.LEDHaptics.BrakingSlipDelta, doc.LEDHaptics.GlobalGain)
	hapticsLoop := haptics.NewLoop(doc.LEDHaptics.RateHz, teleSlot, ledMapper, router, svc.IsSoftStopActive)

	healthMonitor := health.NewMonitor(doc.Observability.HealthSampleHz, svc)

	var apiSrv *apiserver.Server
	if *enableAPI {
		apiSrv = apiserver.NewServer(*apiAddr, loop.Metrics(), svc, doc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Run(gctx)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("rt loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := hapticsLoop.Run(gctx)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("haptics loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := healthMonitor.Run(gctx)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("health monitor: %w", err)
		}
		return nil
	})
	if apiSrv != nil {
		if err := writePortFile(addrPort(*apiAddr)); err != nil {
			log.Printf("ffbd: warning: failed to write port file: %v", err)
		}
		g.Go(func() error {
			err := apiSrv.Run(gctx)
			if err != nil && err != context.Canceled {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}

	log.Printf("ffbd: running (device=%s api=%v)", device.Info().ProductName, *enableAPI)

	err = g.Wait()
	stop()
	loop.Stop()
	hapticsLoop.Stop()
	sessions.Invalidate(device.Info().Path)
	cleanupPortFile()

	if err != nil {
		log.Fatalf("ffbd: shut down with error: %v", err)
	}
	log.Println("ffbd: clean shutdown")
}

// openDevice opens the configured wheelbase, or a VirtualDevice when
// -virtual is set (the C8 harness path with no hardware attached).
func openDevice() (transport.Device, error) {
	if *virtual {
		log.Println("ffbd: using virtual device (no hardware attached)")
		return fault.NewVirtualDevice(transport.DeviceInfo{
			VendorID:    uint16(*vendorID),
			ProductID:   uint16(*productID),
			ProductName: "Virtual Wheelbase",
			Capabilities: transport.DeviceCapabilities{
				SupportsPID:           true,
				SupportsRawTorque1kHz: true,
				SupportsHealthStream:  true,
				SupportsLEDBus:        true,
				MaxTorqueNm:           *maxNominal,
				EncoderCPR:            4096,
				MinReportPeriodUs:     1000,
			},
		}), nil
	}
	return transport.Open(uint16(*vendorID), uint16(*productID))
}

// addrPort extracts the numeric port from a ":8090"-style listen
// address for port-file discovery; defaults to 0 if unparseable.
func addrPort(addr string) int {
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			fmt.Sscanf(addr[i+1:], "%d", &port)
			break
		}
	}
	return port
}
