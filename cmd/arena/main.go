package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowarena/internal/app"
	"flowarena/internal/config"
	"flowarena/internal/session"
	"flowarena/internal/telemetry"
)

func main() {
	var (
		envFile   string
		autopilot bool
		status    time.Duration
	)
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file")
	flag.BoolVar(&autopilot, "autopilot", true, "drive the player with random input")
	flag.DurationVar(&status, "status", 5*time.Second, "status line interval (0 disables)")
	flag.Parse()

	logger := telemetry.WrapLogger(log.Default())
	settings, err := config.Load(envFile, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, app.Config{
		Logger:         logger,
		Settings:       settings,
		Autopilot:      autopilot,
		StatusInterval: status,
	})
	if err != nil && !errors.Is(err, session.ErrIdle) {
		log.Fatalf("%v", err)
	}
}
