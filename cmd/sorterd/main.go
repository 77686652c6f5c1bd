package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"defect-sorter/internal/camera"
	"defect-sorter/internal/config"
	"defect-sorter/internal/dio"
	"defect-sorter/internal/events"
	"defect-sorter/internal/health"
	"defect-sorter/internal/observability"
	"defect-sorter/internal/process"
	"defect-sorter/internal/server"
	"defect-sorter/internal/state"
	"defect-sorter/internal/telemetry"
	"defect-sorter/internal/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sorterd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "sorterd.toml", "path to the daemon config file")
	flag.Parse()

	logger := observability.InitLogger("sorterd")
	observability.RegisterMetrics()

	cfg := defaultServiceConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Info().Str("path", *configPath).Msg("config loaded")
	} else {
		logger.Warn().Str("path", *configPath).Msg("config file absent, running on defaults")
	}

	sysfs := dio.SysfsOptions{ChipBasePath: cfg.ChipBasePath}
	sensor, err := dio.OpenSysfsLine(cfg.SensorPin, dio.In, sysfs)
	if err != nil {
		return err
	}
	piston, err := dio.OpenSysfsLine(cfg.PistonPin, dio.Out, sysfs)
	if err != nil {
		return err
	}
	riser, err := dio.OpenSysfsLine(cfg.RiserPin, dio.Out, sysfs)
	if err != nil {
		return err
	}
	ejector, err := dio.OpenSysfsLine(cfg.EjectorPin, dio.Out, sysfs)
	if err != nil {
		return err
	}

	store, err := config.NewStore(cfg.SettingsPath)
	if err != nil {
		return err
	}

	device := camera.NewADBDevice(nil, cfg.ADBSerial)
	capCfg := cfg.Capture
	capCfg.LocalDir = cfg.CapturesDir
	capture := camera.NewController(device, capCfg, logger)
	classifier := vision.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout)

	bus := events.NewBus(256)
	defer bus.Close()
	states := state.NewManager(bus)

	monitor := health.NewMonitor(health.Config{
		Interval:   cfg.HealthInterval,
		ServiceURL: cfg.HealthURL,
	}, device, bus, logger)
	monitor.OnStatus = func(st health.Status) {
		states.SetConnectivity(st.DeviceConnected, st.ServiceReachable)
	}

	orch := process.New(process.Deps{
		Store:         store,
		Capture:       capture,
		Classifier:    classifier,
		Bus:           bus,
		State:         states,
		Monitor:       monitor,
		Sensor:        sensor,
		Piston:        piston,
		Riser:         riser,
		Ejector:       ejector,
		MachineConfig: cfg.Machine,
		Log:           logger,
	})
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor.Start(ctx)
	defer monitor.Stop()

	if cfg.MQTTEnabled {
		pub, err := telemetry.Connect(cfg.MQTT)
		if err != nil {
			logger.Warn().Err(err).Msg("mqtt broker unavailable, telemetry disabled")
		} else {
			bridge := telemetry.NewBridge(pub, bus, logger)
			defer bridge.Close()
		}
	}

	srv := server.New(server.Config{
		Addr:        cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
	}, orch, states, monitor, logger)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	logger.Info().
		Int("sensor_pin", cfg.SensorPin).
		Int("piston_pin", cfg.PistonPin).
		Int("riser_pin", cfg.RiserPin).
		Int("ejector_pin", cfg.EjectorPin).
		Dur("tick", cfg.Machine.TickInterval).
		Msg("sorter daemon up")

	ticker := time.NewTicker(cfg.Machine.TickInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case now := <-ticker.C:
			orch.Tick(now)
		case err := <-srvErr:
			if err != nil {
				return err
			}
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	if cfg.SummaryPath != "" {
		if err := orch.WriteSummary(cfg.SummaryPath); err != nil {
			logger.Warn().Err(err).Msg("run summary not written")
		}
	}
	sum := orch.Summary()
	logger.Info().
		Int64("completed", sum.CyclesCompleted).
		Int64("invalidated", sum.CyclesInvalidated).
		Int64("ejections", sum.Ejections).
		Int64("passes", sum.Passes).
		Msg("run summary")
	return nil
}
