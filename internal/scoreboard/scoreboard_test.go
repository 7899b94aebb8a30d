package scoreboard

import (
	"context"
	"testing"
	"time"

	"flowarena/internal/record"
	"flowarena/internal/store"
	"flowarena/internal/store/memstore"
)

func TestLiveRanksSessionMembers(t *testing.T) {
	start := time.UnixMilli(10_000)
	now := time.UnixMilli(40_000)
	players := []record.Player{
		{ID: "b", Score: 3, LastSeen: 39_000},
		{ID: "a", Score: 3, LastSeen: 20_000},
		{ID: "c", Score: 7, LastSeen: 39_500, ColorIndex: record.SlotPtr(2)},
		{ID: "old", Score: 99, LastSeen: 5_000},
	}
	rows := Live(players, start, now, 15*time.Second)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ID != "c" || rows[1].ID != "a" || rows[2].ID != "b" {
		t.Fatalf("unexpected order %v %v %v", rows[0].ID, rows[1].ID, rows[2].ID)
	}
	if rows[1].Online || !rows[2].Online {
		t.Fatalf("unexpected online flags %+v", rows)
	}
}

func TestMergeCreatesAndClamps(t *testing.T) {
	at := time.UnixMilli(1_000)
	h := Merge(nil, "p", Delta{Catches: 1, Slot: record.SlotPtr(4), Locale: "fi", At: at})
	if h.ID != "p" || h.Catches != 1 || *h.ColorIndex != 4 || h.UpdatedAt != 1_000 {
		t.Fatalf("unexpected created record %+v", h)
	}
	h = Merge(h, "p", Delta{Hits: 2, Catches: -5})
	if h.Catches != 0 || h.Hits != 2 || h.Locale != "fi" {
		t.Fatalf("unexpected merged record %+v", h)
	}
}

func TestRecordAndTopHighscores(t *testing.T) {
	conn := memstore.NewTree().Connect()
	ctx := context.Background()
	for id, catches := range map[string]int{"a": 5, "b": 9, "c": 1} {
		for i := 0; i < catches; i++ {
			if err := Record(ctx, conn, id, Delta{Catches: 1}); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
	}
	top, err := TopHighscores(ctx, conn, 2)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].ID != "b" || top[0].Catches != 9 || top[1].ID != "a" {
		t.Fatalf("unexpected top list %+v", top)
	}
}

func TestPruneStaleArchivesAndDeletes(t *testing.T) {
	tree := memstore.NewTree()
	conn := tree.Connect()
	ctx := context.Background()
	now := time.UnixMilli(1_000_000)
	cfg := DefaultPruneConfig()

	write := func(path store.Path, v any) {
		t.Helper()
		if err := conn.Write(ctx, path, v); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	write(store.Join(store.Players, "fresh"), map[string]any{"angle": 1, "layer": 0, "lastSeen": 999_000})
	write(store.Join(store.Players, "stale"), map[string]any{"angle": 1, "layer": 0, "lastSeen": 100_000, "colorIndex": 3, "locale": "en"})
	write(store.Join(store.Players, "zombie"), map[string]any{"score": 4})
	write(store.Join(store.Highscores, "stale"), map[string]any{"catches": 6, "hits": 1})
	write(store.Join(store.Flows, "live"), map[string]any{"spawnTime": 999_500, "angle": 0})
	write(store.Join(store.Flows, "ancient"), map[string]any{"spawnTime": 500_000, "angle": 0})
	write(store.Join(store.Flows, "tagged"), map[string]any{"spawnTime": 999_000, "angle": 0, "expired": true})

	report, err := PruneStale(ctx, conn, now, cfg)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if report.PlayersArchived != 1 || report.PlayersInvalid != 1 || report.FlowsDeleted != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if tree.Read(store.Join(store.Players, "stale"), store.Query{}).Exists {
		t.Fatalf("expected stale player deleted")
	}
	if !tree.Read(store.Join(store.Players, "fresh"), store.Query{}).Exists {
		t.Fatalf("expected fresh player kept")
	}
	h, err := record.DecodeHighscore("stale", tree.Read(store.Join(store.Highscores, "stale"), store.Query{}).Value)
	if err != nil {
		t.Fatalf("decode highscore: %v", err)
	}
	if h.Catches != 6 || h.Locale != "en" || h.ColorIndex == nil || *h.ColorIndex != 3 {
		t.Fatalf("expected archived metadata merged, got %+v", h)
	}
	if !tree.Read(store.Join(store.Flows, "live"), store.Query{}).Exists {
		t.Fatalf("expected live flow kept")
	}
}

// lateHeartbeat refreshes a player right after the cleanup has read the
// players collection.
type lateHeartbeat struct {
	store.Store
	tree *memstore.Tree
	id   string
	at   int64
}

func (s lateHeartbeat) ReadOnce(ctx context.Context, path store.Path, q store.Query) (store.Snapshot, error) {
	snap, err := s.Store.ReadOnce(ctx, path, q)
	if path == store.Join(store.Players) {
		_ = s.tree.Update(store.Join(store.Players, s.id), map[string]any{"lastSeen": s.at})
	}
	return snap, err
}

func TestPruneStaleKeepsPlayerRefreshedAfterRead(t *testing.T) {
	tree := memstore.NewTree()
	ctx := context.Background()
	now := time.UnixMilli(1_000_000)
	if err := tree.Write(store.Join(store.Players, "late"), map[string]any{"angle": 1, "layer": 0, "lastSeen": 100_000}); err != nil {
		t.Fatalf("write: %v", err)
	}

	st := lateHeartbeat{Store: tree.Connect(), tree: tree, id: "late", at: 999_000}
	report, err := PruneStale(ctx, st, now, DefaultPruneConfig())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if report.PlayersArchived != 0 {
		t.Fatalf("expected no archive, got %+v", report)
	}
	p, err := record.DecodePlayer("late", tree.Read(store.Join(store.Players, "late"), store.Query{}).Value)
	if err != nil || p.LastSeen != 999_000 {
		t.Fatalf("expected the refreshed player to survive, got %+v err=%v", p, err)
	}
	if tree.Read(store.Join(store.Highscores, "late"), store.Query{}).Exists {
		t.Fatalf("expected no highscore archive for a live player")
	}
}

func TestPruneHighscores(t *testing.T) {
	conn := memstore.NewTree().Connect()
	ctx := context.Background()
	_ = Record(ctx, conn, "keep", Delta{Catches: 10})
	_ = Record(ctx, conn, "drop", Delta{Catches: 1})
	removed, err := PruneHighscores(ctx, conn, 5)
	if err != nil || removed != 1 {
		t.Fatalf("expected one record pruned, got %d err=%v", removed, err)
	}
	top, _ := TopHighscores(ctx, conn, 10)
	if len(top) != 1 || top[0].ID != "keep" {
		t.Fatalf("unexpected survivors %+v", top)
	}
}
