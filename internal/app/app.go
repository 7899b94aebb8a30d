package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"flowarena/internal/arena"
	"flowarena/internal/config"
	"flowarena/internal/session"
	"flowarena/internal/store"
	"flowarena/internal/store/memstore"
	"flowarena/internal/store/wsstore"
	"flowarena/internal/telemetry"
	"flowarena/logging"
	loggingSinks "flowarena/logging/sinks"
)

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Autopilot drives the local player with random input so a headless
	// client stays active.
	Autopilot bool
	// StatusInterval paces the status line; zero disables it.
	StatusInterval time.Duration
}

func standardLogger(logger telemetry.Logger) *log.Logger {
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			return candidate
		}
	}
	return log.Default()
}

// newRouter builds the event router and its sinks from settings. The
// returned close function flushes the router and any files it opened.
func newRouter(settings config.Config, metrics *logging.Metrics, logger telemetry.Logger) (*logging.Router, func(context.Context), error) {
	logCfg := settings.Logging()
	logCfg.Metrics = metrics
	var (
		named   []logging.NamedSink
		closers []io.Closer
	)
	if logCfg.HasSink("console") {
		named = append(named, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(standardLogger(logger).Writer())})
	}
	if logCfg.HasSink("json") {
		out := io.Writer(os.Stdout)
		if logCfg.JSON.FilePath != "" {
			file, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open event log %s: %w", logCfg.JSON.FilePath, err)
			}
			closers = append(closers, file)
			out = file
		}
		named = append(named, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(out, logCfg.JSON.FlushInterval)})
	}
	router, err := logging.NewRouter(logging.ClockFunc(time.Now), logCfg, named)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	closeAll := func(ctx context.Context) {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		for _, c := range closers {
			_ = c.Close()
		}
	}
	return router, closeAll, nil
}

func sessionConfig(settings config.Config) session.Config {
	cfg := session.DefaultConfig()
	cfg.PlayerID = settings.PlayerID
	cfg.Locale = settings.Locale
	cfg.FrameInterval = settings.FrameInterval()
	if settings.IdleTimeout > 0 {
		cfg.Presence.IdleTimeout = settings.IdleTimeout
	}
	if settings.FlowWindow > 0 {
		cfg.Cache.WindowSize = settings.FlowWindow
	}
	return cfg
}

func connect(ctx context.Context, settings config.Config, logger telemetry.Logger) (store.Store, error) {
	if settings.StoreURL == "" {
		logger.Printf("no %s set, playing in an in-process room", config.EnvStoreURL)
		return memstore.NewTree().Connect(), nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := wsstore.Dial(dialCtx, settings.StoreURL, wsstore.ClientConfig{Logger: logger})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run joins a room as a headless client and simulates until ctx is
// cancelled or the session goes idle. An idle session returns session.ErrIdle.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	metrics := &logging.Metrics{}
	router, closeRouter, err := newRouter(cfg.Settings, metrics, telemetryLogger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closeRouter(closeCtx)
	}()

	st, err := connect(ctx, cfg.Settings, telemetryLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to room store: %w", err)
	}

	sess, err := session.New(sessionConfig(cfg.Settings), session.Deps{
		Store:     st,
		Publisher: router,
		Logger:    telemetryLogger,
		Metrics:   telemetry.WrapMetrics(metrics),
		Runner:    session.Background,
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to join room: %w", err)
	}
	telemetryLogger.Printf("joined room as %s", sess.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	if cfg.Autopilot {
		g.Go(func() error {
			autopilot(gctx, sess, rand.New(rand.NewSource(time.Now().UnixNano())), telemetryLogger)
			return nil
		})
	}
	if cfg.StatusInterval > 0 {
		g.Go(func() error {
			reportStatus(gctx, sess, metrics, telemetryLogger, cfg.StatusInterval)
			return nil
		})
	}
	err = g.Wait()
	if errors.Is(err, session.ErrIdle) {
		telemetryLogger.Printf("session went idle; rejoin to play again")
	}
	return err
}

// autopilot nudges the player around the ring and occasionally changes layer.
func autopilot(ctx context.Context, sess *session.Session, rng *rand.Rand, logger telemetry.Logger) {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drift := (rng.Float64() - 0.5) * math.Pi / 2
			layerChange := rng.Intn(5) == 0
			layerStep := rng.Intn(3) - 1
			sess.Do(func() {
				self := sess.Self()
				layer := self.Layer
				if layerChange {
					layer = (layer + layerStep + arena.Layers) % arena.Layers
				}
				if err := sess.Move(self.Angle+drift, layer); err != nil && !errors.Is(err, session.ErrIdle) && !errors.Is(err, session.ErrStopped) {
					logger.Printf("autopilot: %v", err)
				}
			})
		}
	}
}

func reportStatus(ctx context.Context, sess *session.Session, metrics *logging.Metrics, logger telemetry.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.Do(func() {
				self := sess.Self()
				counters := metrics.Snapshot()
				logger.Printf("level=%d score=%d slot=%s flows=%d caught=%d hits=%d players=%d",
					sess.Level(), self.Score, sess.SlotState(), len(sess.Flows()),
					counters[telemetry.MetricFlowsCaught], counters[telemetry.MetricHazardHits], len(sess.Players()))
			})
		}
	}
}
