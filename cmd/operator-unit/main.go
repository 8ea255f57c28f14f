package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"aeras-dispatch/internal/channel"
	"aeras-dispatch/internal/config"
	"aeras-dispatch/internal/core"
	"aeras-dispatch/internal/hardware"
	"aeras-dispatch/internal/logger"
	"aeras-dispatch/internal/observability"
	"aeras-dispatch/internal/store"
)

func main() {
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	flag.Parse()

	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))
	cfg := config.Load()

	l.Infof("Starting operator unit %s (driver %s)...", cfg.DeviceID, cfg.DriverID)

	observability.StartMetricsServer(cfg.MetricsPort, l.WithTag("metrics"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(cfg.RedisAddr, cfg.DeviceID, l.WithTag("store"))
	if err := st.Connect(ctx); err != nil {
		l.Fatalf("Failed to connect store: %v", err)
	}
	defer st.Close()

	transport := channel.NewRedisTransport(cfg.RedisAddr, l.WithTag("transport"))
	link := channel.New(transport, []byte(cfg.PresharedKey), cfg.QueueCapacity, cfg.RetryCeiling,
		cfg.BackoffInitial, cfg.BackoffMax, cfg.HeartbeatInterval, l.WithTag("channel"))
	defer link.Close()

	gps, err := hardware.OpenGPSPort(cfg.GPSPort, cfg.GPSBaudRate, l.WithTag("gps"))
	if err != nil {
		l.Fatalf("Failed to open GPS port: %v", err)
	}
	defer gps.Close()

	console, err := hardware.NewButtons(hardware.GpioChip, hardware.OperatorButtons, cfg.DebounceWindow, l.WithTag("buttons"))
	if err != nil {
		l.Fatalf("Failed to set up console buttons: %v", err)
	}
	defer console.Close()

	ann, err := hardware.NewIndicators(hardware.GpioChip, hardware.IndicatorPins,
		hardware.BuzzerPwmChip, hardware.BuzzerPwmChannel, l.WithTag("indicators"))
	if err != nil {
		l.Fatalf("Failed to set up indicators: %v", err)
	}
	defer ann.Close()

	system := core.NewOperatorSystem(cfg, link, st, gps, console, ann, l.WithTag("operator"))
	if err := system.Start(ctx); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		l.Infof("Received signal %v, shutting down...", sig)
		cancel()
	}()

	system.Run(ctx)
	l.Infof("Shutdown complete")
}
