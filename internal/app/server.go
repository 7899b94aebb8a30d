package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"flowarena/internal/scoreboard"
	"flowarena/internal/store/memstore"
	"flowarena/internal/store/wsstore"
	"flowarena/internal/telemetry"
)

type StoreServerConfig struct {
	Logger telemetry.Logger
	Addr   string
	// JanitorInterval paces server-side stale record pruning; zero disables it.
	JanitorInterval time.Duration
	Prune           scoreboard.PruneConfig
}

// NewStoreHandler exposes tree on /ws with a /healthz probe.
func NewStoreHandler(tree *memstore.Tree, logger telemetry.Logger) (http.Handler, *wsstore.Server) {
	srv := wsstore.NewServer(tree, wsstore.ServerConfig{Logger: logger})
	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok peers=%d subscriptions=%d\n", srv.PeerCount(), tree.SubscriberCount())
	})
	return mux, srv
}

// RunStoreServer hosts one room until ctx is cancelled.
func RunStoreServer(ctx context.Context, cfg StoreServerConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	tree := memstore.NewTree()
	handler, _ := NewStoreHandler(tree, logger)
	httpServer := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("room store listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.JanitorInterval > 0 {
		g.Go(func() error {
			janitor(gctx, tree, cfg.JanitorInterval, cfg.Prune, logger)
			return nil
		})
	}
	return g.Wait()
}

// janitor prunes stale players and flows left behind by crashed clients.
func janitor(ctx context.Context, tree *memstore.Tree, every time.Duration, cfg scoreboard.PruneConfig, logger telemetry.Logger) {
	conn := tree.Connect()
	defer conn.Close()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			report, err := scoreboard.PruneStale(ctx, conn, now, cfg)
			if err != nil {
				logger.Printf("janitor: %v", err)
			}
			if report.PlayersArchived+report.PlayersInvalid+report.FlowsDeleted > 0 {
				logger.Printf("janitor: archived %d players, dropped %d invalid, deleted %d flows",
					report.PlayersArchived, report.PlayersInvalid, report.FlowsDeleted)
			}
		}
	}
}
