package spawn

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowarena/internal/arena"
	"flowarena/internal/record"
	"flowarena/internal/store"
	"flowarena/internal/store/memstore"
)

func TestBurstSize(t *testing.T) {
	c := New(DefaultConfig(), rand.New(rand.NewSource(1)))
	tests := []struct {
		kind  Kind
		fresh int
		want  int
	}{
		{KindBenign, 0, 0},
		{KindBenign, 1, 2},
		{KindBenign, 3, 6},
		{KindBenign, 9, 10},
		{KindHazard, 0, 0},
		{KindHazard, 1, 1},
		{KindHazard, 3, 2},
		{KindHazard, 12, 3},
	}
	for _, tt := range tests {
		if got := c.BurstSize(tt.kind, tt.fresh); got != tt.want {
			t.Errorf("BurstSize(%s, %d) = %d, want %d", tt.kind, tt.fresh, got, tt.want)
		}
	}
	if c.HazardAllowed(2) || !c.HazardAllowed(3) {
		t.Fatalf("unexpected hazard threshold")
	}
}

func TestGateGrantsOncePerWindow(t *testing.T) {
	tree := memstore.NewTree()
	a := New(DefaultConfig(), nil)
	b := New(DefaultConfig(), nil)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	granted, err := a.Acquire(ctx, tree.Connect(), KindBenign, now)
	if err != nil || !granted {
		t.Fatalf("expected first acquire to win, granted=%v err=%v", granted, err)
	}
	granted, _ = b.Acquire(ctx, tree.Connect(), KindBenign, now.Add(500*time.Millisecond))
	if granted {
		t.Fatalf("expected second acquire inside the window to lose")
	}
	granted, _ = b.Acquire(ctx, tree.Connect(), KindHazard, now.Add(500*time.Millisecond))
	if !granted {
		t.Fatalf("expected the hazard gate to be independent")
	}
	granted, _ = b.Acquire(ctx, tree.Connect(), KindBenign, now.Add(DefaultConfig().Gate))
	if !granted {
		t.Fatalf("expected acquire after the window to win")
	}
}

func TestGateElectsOneWinnerUnderContention(t *testing.T) {
	tree := memstore.NewTree()
	now := time.UnixMilli(1_700_000_000_000)
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(offset time.Duration) {
			defer wg.Done()
			c := New(DefaultConfig(), nil)
			granted, err := c.Acquire(context.Background(), tree.Connect(), KindBenign, now.Add(offset))
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if granted {
				winners.Add(1)
			}
		}(time.Duration(i) * 10 * time.Millisecond)
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}

func TestGateTreatsFarFutureGrantAsStale(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	future := record.Millis(now.Add(time.Hour))
	next, commit := GateTx(now, 2*time.Second)(&future)
	if !commit || *next != record.Millis(now) {
		t.Fatalf("expected skewed grant to be replaced")
	}
	near := record.Millis(now.Add(time.Second))
	if _, commit := GateTx(now, 2*time.Second)(&near); commit {
		t.Fatalf("expected slight skew to hold the gate")
	}
}

func TestPlanJittersWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, rand.New(rand.NewSource(7)))
	now := time.UnixMilli(1_700_000_000_000)
	planned := c.Plan(KindHazard, now, 5)
	if len(planned) != 5 {
		t.Fatalf("expected 5 planned pushes, got %d", len(planned))
	}
	for i, p := range planned {
		if p.At.Before(now) || p.At.After(now.Add(cfg.Jitter)) {
			t.Fatalf("push %d outside jitter window: %v", i, p.At.Sub(now))
		}
		if i > 0 && p.At.Before(planned[i-1].At) {
			t.Fatalf("pushes not ordered")
		}
		if !p.Flow.Evil || p.Flow.SpawnTime != record.Millis(p.At) || !arena.ValidLayer(p.Flow.Layer) {
			t.Fatalf("unexpected flow %+v", p.Flow)
		}
	}
}

func TestEmitPushesChronologicalKeys(t *testing.T) {
	tree := memstore.NewTree()
	conn := tree.Connect()
	ctx := context.Background()
	first, err := Emit(ctx, conn, record.Flow{SpawnTime: 1, Angle: 1})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	second, _ := Emit(ctx, conn, record.Flow{SpawnTime: 2, Angle: 2})
	if first >= second {
		t.Fatalf("expected chronological keys, got %q then %q", first, second)
	}
	snap, _ := conn.ReadOnce(ctx, store.Join(store.Flows), store.Query{})
	flows, rejected := record.Flows(snap)
	if len(flows) != 2 || len(rejected) != 0 {
		t.Fatalf("expected 2 valid flows, got %d (%d rejected)", len(flows), len(rejected))
	}
}
