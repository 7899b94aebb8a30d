package difficulty

import (
	"testing"
	"time"
)

func TestLevelAdvancesOncePerInterval(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Unix(0, 0)
	c := New(cfg, start)

	changes := 0
	for s := 1; s <= 90; s++ {
		if c.Tick(start.Add(time.Duration(s)*time.Second), true).LevelChanged {
			changes++
		}
	}
	if changes != 3 || c.Level() != 4 {
		t.Fatalf("expected 3 advances to level 4, got %d changes at level %d", changes, c.Level())
	}
	if c.Multiplier() <= 1 {
		t.Fatalf("expected multiplier to grow, got %f", c.Multiplier())
	}
}

func TestLevelNeverAdvancesWhilePaused(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Unix(0, 0)
	c := New(cfg, start)

	c.Tick(start.Add(20*time.Second), true)
	for s := 21; s <= 200; s++ {
		if c.Tick(start.Add(time.Duration(s)*time.Second), false).LevelChanged {
			t.Fatalf("advanced while paused at %ds", s)
		}
	}
	if !c.Paused() {
		t.Fatalf("expected paused")
	}
	// 21s accrued up to the first offline tick; 9 more online seconds complete the level.
	c.Tick(start.Add(209*time.Second), true)
	if c.Tick(start.Add(217*time.Second), true).LevelChanged {
		t.Fatalf("advanced before a full online interval")
	}
	if !c.Tick(start.Add(218*time.Second), true).LevelChanged {
		t.Fatalf("expected advance after a full online interval")
	}
	if c.Level() != 2 {
		t.Fatalf("expected level 2, got %d", c.Level())
	}
}

func TestRolloverAfterFinalLevel(t *testing.T) {
	cfg := Config{MaxLevel: 3, Interval: 10 * time.Second, Growth: 1.5}
	start := time.Unix(0, 0)
	c := New(cfg, start)

	var rollover Change
	for s := 1; s <= 30; s++ {
		if change := c.Tick(start.Add(time.Duration(s)*time.Second), true); change.RolledOver {
			rollover = change
		}
	}
	if !rollover.RolledOver || rollover.Level != 1 || c.Level() != 1 {
		t.Fatalf("expected rollover to level 1, got %+v", rollover)
	}
	if !c.Epoch().Equal(start.Add(30 * time.Second)) {
		t.Fatalf("expected new epoch at rollover, got %v", c.Epoch())
	}
	if c.Multiplier() != 1 {
		t.Fatalf("expected base multiplier after rollover")
	}
}
