package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/overkillpi/overkill/api"
	"github.com/overkillpi/overkill/internal/bootcfg"
	"github.com/overkillpi/overkill/internal/config"
	"github.com/overkillpi/overkill/internal/fan"
	"github.com/overkillpi/overkill/internal/observability"
	"github.com/overkillpi/overkill/internal/overclock"
	"github.com/overkillpi/overkill/internal/platform"
	"github.com/overkillpi/overkill/internal/silicon"
	"github.com/overkillpi/overkill/internal/stress"
	"github.com/overkillpi/overkill/internal/sysinfo"
	"github.com/overkillpi/overkill/internal/thermal"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides OVERKILL_ADDR)")
	flag.Parse()

	if err := platform.ValidateSupport(); err != nil {
		log.Fatalf("Platform validation failed: %v", err)
	}
	if !platform.IsPi5() {
		log.Printf("WARNING: board %q does not identify as a Raspberry Pi 5; overclock parameters assume Pi 5 firmware", platform.Model())
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	flush, enabled, err := observability.InitSentry()
	if err != nil {
		log.Printf("Sentry init failed, continuing without error reporting: %v", err)
	} else if enabled {
		log.Printf("Sentry error reporting enabled")
	}
	defer flush()

	// Wire the subsystems
	manager := overclock.NewManager()
	if cfg.BootConfigPath != "" {
		manager.Boot = bootcfg.New(cfg.BootConfigPath)
	}
	manager.ArmbianEnvPath = cfg.ArmbianEnvPath

	thermalReader := thermal.NewReader()
	grades := silicon.NewGradeStore(cfg.GradePath)

	tester := silicon.NewTester(
		manager,
		thermalReader,
		silicon.StressAdapter{Runner: stress.NewRunner()},
		silicon.NewKernelLog(),
		grades,
	)
	tester.TestDuration = cfg.TestDuration
	tester.TempThreshold = cfg.TempThreshold
	tester.TempAbort = cfg.TempAbort

	fanCtl := fan.NewController(thermalReader.CPUTemperature)
	defer fanCtl.Close()

	server := api.NewServer(api.Components{
		System:    sysinfo.NewReader(),
		Thermal:   thermalReader,
		Overclock: manager,
		Profiles:  overclock.NewStore(cfg.ProfileDir),
		Tester:    tester,
		Grades:    grades,
		Fan:       fanCtl,
	})

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Printf("Shutting down")
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("Starting OVERKILL server on %s", cfg.Addr)
	if err := server.Start(cfg.Addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
