package collision

import (
	"math"
	"testing"
	"time"

	"flowarena/internal/arena"
)

type recordingCommitter struct {
	catches []Hit
	hazards []Hit
}

func (r *recordingCommitter) Catch(hit Hit)  { r.catches = append(r.catches, hit) }
func (r *recordingCommitter) Hazard(hit Hit) { r.hazards = append(r.hazards, hit) }

func onRing(id string, angle float64, layer int, evil bool) Target {
	return Target{ID: id, Angle: angle, Radius: arena.LayerRadius(layer), Evil: evil}
}

func TestCheckScoresEachFlowOnce(t *testing.T) {
	committer := &recordingCommitter{}
	engine := NewEngine(DefaultConfig(), committer)
	player := &Player{ID: "p1", Angle: 0, Layer: 2}
	start := time.Unix(100, 0)

	for frame := 0; frame < 120; frame++ {
		now := start.Add(time.Duration(frame) * 16 * time.Millisecond)
		engine.Check(now, player, []Target{onRing("f1", 0, 2, false)})
	}

	if len(committer.catches) != 1 {
		t.Fatalf("expected exactly one catch, got %d", len(committer.catches))
	}
	if !engine.Scored("f1") || !engine.PendingRemoval("f1") {
		t.Fatalf("expected f1 to be scored and pending removal")
	}
}

func TestCheckHazardSetsHurt(t *testing.T) {
	committer := &recordingCommitter{}
	cfg := DefaultConfig()
	engine := NewEngine(cfg, committer)
	player := &Player{ID: "p1", Angle: 1, Layer: 0}
	now := time.Unix(100, 0)

	hits := engine.Check(now, player, []Target{onRing("h1", 1.1, 0, true)})
	if len(hits) != 1 || !hits[0].Evil {
		t.Fatalf("expected one hazard hit, got %+v", hits)
	}
	if len(committer.hazards) != 1 || len(committer.catches) != 0 {
		t.Fatalf("unexpected commits catches=%d hazards=%d", len(committer.catches), len(committer.hazards))
	}
	if !engine.Hurt(now.Add(cfg.HurtDuration - time.Millisecond)) {
		t.Fatalf("expected hurt state inside its duration")
	}
	if engine.Hurt(now.Add(cfg.HurtDuration)) {
		t.Fatalf("expected hurt state to end")
	}
}

func TestOverlapsGeometry(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil)
	tests := []struct {
		name   string
		player Player
		target Target
		want   bool
	}{
		{name: "same ring centred", player: Player{Angle: 0, Layer: 1}, target: onRing("a", 0, 1, false), want: true},
		{name: "other ring", player: Player{Angle: 0, Layer: 1}, target: onRing("a", 0, 3, false), want: false},
		{name: "tag ignored", player: Player{Angle: 0, Layer: 1}, target: Target{ID: "a", Angle: 0, Radius: arena.LayerRadius(1), Layer: 4}, want: true},
		{name: "outside arc", player: Player{Angle: 0, Layer: 1}, target: onRing("a", math.Pi/2, 1, false), want: false},
		{name: "across seam", player: Player{Angle: 2*math.Pi - 0.05, Layer: 1}, target: onRing("a", 0.2, 1, false), want: true},
		{name: "radial edge inside", player: Player{Angle: 0, Layer: 1}, target: Target{ID: "a", Radius: arena.LayerRadius(1) + 0.034}, want: true},
		{name: "radial edge outside", player: Player{Angle: 0, Layer: 1}, target: Target{ID: "a", Radius: arena.LayerRadius(1) + 0.036}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Overlaps(tt.player, tt.target); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckWithoutPlayerSkips(t *testing.T) {
	committer := &recordingCommitter{}
	engine := NewEngine(DefaultConfig(), committer)
	if hits := engine.Check(time.Unix(1, 0), nil, []Target{onRing("f", 0, 0, false)}); hits != nil {
		t.Fatalf("expected no hits without a player")
	}
	if engine.Len() != 0 {
		t.Fatalf("expected no bookkeeping without a player")
	}
}

func TestCollectGarbageAndReset(t *testing.T) {
	cfg := DefaultConfig()
	engine := NewEngine(cfg, &recordingCommitter{})
	player := &Player{Angle: 0, Layer: 0}
	start := time.Unix(100, 0)
	engine.Check(start, player, []Target{onRing("old", 0, 0, false)})
	engine.Check(start.Add(cfg.ScoredRetention), player, []Target{onRing("new", 0, 0, false)})

	if dropped := engine.CollectGarbage(start.Add(cfg.ScoredRetention + time.Millisecond)); dropped != 1 {
		t.Fatalf("expected one identity dropped, got %d", dropped)
	}
	if engine.Scored("old") || !engine.Scored("new") {
		t.Fatalf("garbage collection removed the wrong identity")
	}

	engine.Reset()
	if engine.Len() != 0 || len(engine.PendingIDs()) != 0 {
		t.Fatalf("expected reset to clear bookkeeping")
	}
}
