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

	l.Infof("Starting requester unit %s at block %s...", cfg.DeviceID, cfg.BlockID)

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

	ranger, err := hardware.NewUltrasonic(hardware.GpioChip, hardware.PinUltrasonicTrig, hardware.PinUltrasonicEcho, l.WithTag("ultrasonic"))
	if err != nil {
		l.Fatalf("Failed to set up ultrasonic ranger: %v", err)
	}
	defer ranger.Close()

	light := hardware.NewIIOLightSensor(hardware.LightSensorIIODevice, hardware.LightSensorChannel)

	console, err := hardware.NewButtons(hardware.GpioChip, hardware.RequesterButtons, cfg.DebounceWindow, l.WithTag("buttons"))
	if err != nil {
		l.Fatalf("Failed to set up kiosk buttons: %v", err)
	}
	defer console.Close()

	ann, err := hardware.NewIndicators(hardware.GpioChip, hardware.IndicatorPins,
		hardware.BuzzerPwmChip, hardware.BuzzerPwmChannel, l.WithTag("indicators"))
	if err != nil {
		l.Fatalf("Failed to set up indicators: %v", err)
	}
	defer ann.Close()

	system := core.NewRequesterSystem(cfg, link, st, ranger, light, console, ann, l.WithTag("requester"))
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
