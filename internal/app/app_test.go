package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowarena/internal/config"
	"flowarena/internal/session"
	"flowarena/internal/store"
	"flowarena/internal/store/memstore"
	"flowarena/internal/store/wsstore"
)

func TestSessionConfigFromSettings(t *testing.T) {
	settings := config.Default()
	settings.PlayerID = "p1"
	settings.FrameHz = 20
	settings.IdleTimeout = time.Minute
	settings.FlowWindow = 12
	cfg := sessionConfig(settings)
	if cfg.PlayerID != "p1" || cfg.FrameInterval != 50*time.Millisecond || cfg.Presence.IdleTimeout != time.Minute || cfg.Cache.WindowSize != 12 {
		t.Fatalf("unexpected session config %+v", cfg)
	}
}

func TestStoreHandlerHealthz(t *testing.T) {
	handler, _ := NewStoreHandler(memstore.NewTree(), nil)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "ok peers=0") {
		t.Fatalf("unexpected health response %d %q", resp.StatusCode, body)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionPlaysInRemoteRoom(t *testing.T) {
	tree := memstore.NewTree()
	handler, _ := NewStoreHandler(tree, nil)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := wsstore.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", wsstore.ClientConfig{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.PlayerID = "remote"
	sess, err := session.New(cfg, session.Deps{Store: client, Runner: session.Background})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	active := store.Join(store.Players, "remote", "active")
	waitUntil(t, "slot claim", func() bool {
		return string(tree.Read(active, store.Query{}).Value) == "true"
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if tree.Read(store.Join(store.Players, "remote"), store.Query{}).Exists {
		t.Fatalf("expected the player to leave the room on shutdown")
	}
}
