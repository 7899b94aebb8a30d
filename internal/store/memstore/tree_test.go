package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"flowarena/internal/store"
)

type counter struct {
	N int `json:"n"`
}

func TestWriteReadAndDelete(t *testing.T) {
	ctx := context.Background()
	conn := NewTree().Connect()

	if err := conn.Write(ctx, "players/a", map[string]any{"score": 3, "angle": 1.5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := conn.ReadOnce(ctx, "players/a/score", store.Query{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var score int
	if err := snap.Decode(&score); err != nil || score != 3 {
		t.Fatalf("expected score 3, got %d (err=%v)", score, err)
	}

	if err := conn.Delete(ctx, "players/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := conn.Delete(ctx, "players/a"); err != nil {
		t.Fatalf("second delete must be idempotent: %v", err)
	}
	snap, _ = conn.ReadOnce(ctx, "players", store.Query{})
	if snap.Exists {
		t.Fatalf("expected empty parent to be pruned, got %s", snap.Value)
	}
}

func TestUpdateMergesChildren(t *testing.T) {
	ctx := context.Background()
	conn := NewTree().Connect()
	_ = conn.Write(ctx, "players/a", map[string]any{"score": 4, "angle": 0.5})
	if err := conn.Update(ctx, "players/a", map[string]any{"angle": 2.0, "layer": 3}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, _ := conn.ReadOnce(ctx, "players/a", store.Query{})
	var got struct {
		Score int     `json:"score"`
		Angle float64 `json:"angle"`
		Layer int     `json:"layer"`
	}
	if err := snap.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Score != 4 || got.Angle != 2.0 || got.Layer != 3 {
		t.Fatalf("unexpected merged record: %+v", got)
	}
}

func TestWindowedQueryKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	conn := NewTree().Connect()
	for i, spawn := range []int{50, 10, 40, 20, 30} {
		key := string(rune('a' + i))
		if err := conn.Write(ctx, store.Join(store.Flows, key), map[string]any{"spawnTime": spawn}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	snap, err := conn.ReadOnce(ctx, store.Join(store.Flows), store.Query{OrderBy: "spawnTime", LimitToLast: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(snap.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(snap.Children))
	}
	want := []string{"e", "c", "a"}
	for i, child := range snap.Children {
		if child.Key != want[i] {
			t.Fatalf("child %d = %q, want %q", i, child.Key, want[i])
		}
	}
	var windowed map[string]any
	if err := json.Unmarshal(snap.Value, &windowed); err != nil || len(windowed) != 3 {
		t.Fatalf("expected windowed value with 3 entries, got %s", snap.Value)
	}
}

func TestTransactAbortAndCommit(t *testing.T) {
	ctx := context.Background()
	conn := NewTree().Connect()
	inc := func(cur *counter) (*counter, bool) {
		if cur == nil {
			return &counter{N: 1}, true
		}
		return &counter{N: cur.N + 1}, true
	}
	for i := 0; i < 3; i++ {
		if _, err := store.TransactJSON(ctx, conn, "meta/counter", inc); err != nil {
			t.Fatalf("transact: %v", err)
		}
	}
	result, err := store.TransactJSON(ctx, conn, "meta/counter", func(cur *counter) (*counter, bool) {
		return nil, false
	})
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if result.Committed {
		t.Fatalf("expected aborted transaction")
	}
	var got counter
	if err := json.Unmarshal(result.Value, &got); err != nil || got.N != 3 {
		t.Fatalf("expected aborted tx to report current value 3, got %s", result.Value)
	}
}

func TestTransactIsAtomicUnderContention(t *testing.T) {
	ctx := context.Background()
	tree := NewTree()
	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := tree.Connect()
			for i := 0; i < 50; i++ {
				_, _ = store.TransactJSON(ctx, conn, "meta/counter", func(cur *counter) (*counter, bool) {
					if cur == nil {
						return &counter{N: 1}, true
					}
					return &counter{N: cur.N + 1}, true
				})
			}
		}()
	}
	wg.Wait()
	var got counter
	_ = tree.Read("meta/counter", store.Query{}).Decode(&got)
	if got.N != 400 {
		t.Fatalf("expected 400 increments, got %d", got.N)
	}
}

func TestCompareAndSwap(t *testing.T) {
	tree := NewTree()
	ok, _, err := tree.CompareAndSwap("meta/lastSpawn", nil, json.RawMessage("100"))
	if err != nil || !ok {
		t.Fatalf("expected swap from absent, ok=%v err=%v", ok, err)
	}
	ok, current, err := tree.CompareAndSwap("meta/lastSpawn", nil, json.RawMessage("200"))
	if err != nil || ok {
		t.Fatalf("expected stale swap to fail, ok=%v err=%v", ok, err)
	}
	if string(current) != "100" {
		t.Fatalf("expected current 100, got %s", current)
	}
	ok, _, _ = tree.CompareAndSwap("meta/lastSpawn", current, json.RawMessage("200"))
	if !ok {
		t.Fatalf("expected swap with fresh expectation")
	}
}

func TestSubscribeDeliversInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	tree := NewTree()
	conn := tree.Connect()
	var snaps []store.Snapshot
	unsubscribe, err := conn.Subscribe(store.Join(store.Players), store.Query{}, func(s store.Snapshot) {
		snaps = append(snaps, s)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Exists {
		t.Fatalf("expected one empty initial snapshot, got %+v", snaps)
	}

	_ = conn.Write(ctx, "players/a/score", 1)
	_ = conn.Write(ctx, "flows/x", map[string]any{"spawnTime": 1})
	if len(snaps) != 2 {
		t.Fatalf("expected unrelated write to be ignored, got %d snapshots", len(snaps))
	}
	if len(snaps[1].Children) != 1 || snaps[1].Children[0].Key != "a" {
		t.Fatalf("unexpected children %+v", snaps[1].Children)
	}

	unsubscribe()
	unsubscribe()
	_ = conn.Write(ctx, "players/b/score", 1)
	if len(snaps) != 2 {
		t.Fatalf("expected no delivery after unsubscribe")
	}
}

func TestCloseReleasesOnlyOwnSubscriptions(t *testing.T) {
	tree := NewTree()
	a := tree.Connect()
	b := tree.Connect()
	noop := func(store.Snapshot) {}
	if _, err := a.Subscribe("players", store.Query{}, noop); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if _, err := b.Subscribe("players", store.Query{}, noop); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := tree.SubscriberCount(); got != 1 {
		t.Fatalf("expected 1 remaining subscription, got %d", got)
	}
	if err := a.Write(context.Background(), "players/a/score", 1); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestPushKeysAreChronological(t *testing.T) {
	ctx := context.Background()
	conn := NewTree().Connect()
	first, err := conn.Push(ctx, "flows", map[string]any{"spawnTime": 1})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	second, _ := conn.Push(ctx, "flows", map[string]any{"spawnTime": 2})
	if first == second || first > second {
		t.Fatalf("expected increasing keys, got %q then %q", first, second)
	}
}
