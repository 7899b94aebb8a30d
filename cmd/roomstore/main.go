package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowarena/internal/app"
	"flowarena/internal/config"
	"flowarena/internal/scoreboard"
	"flowarena/internal/telemetry"
)

func main() {
	var (
		envFile string
		janitor time.Duration
	)
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file")
	flag.DurationVar(&janitor, "janitor", 30*time.Second, "stale record pruning interval (0 disables)")
	flag.Parse()

	logger := telemetry.WrapLogger(log.Default())
	settings, err := config.Load(envFile, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunStoreServer(ctx, app.StoreServerConfig{
		Logger:          logger,
		Addr:            settings.ListenAddr,
		JanitorInterval: janitor,
		Prune:           scoreboard.DefaultPruneConfig(),
	}); err != nil {
		log.Fatalf("%v", err)
	}
}
