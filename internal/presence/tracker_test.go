package presence

import (
	"testing"
	"time"

	"flowarena/internal/record"
)

func TestIdleBoundary(t *testing.T) {
	cfg := DefaultConfig()
	tick := 16 * time.Millisecond
	start := time.Unix(1_000, 0)

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{name: "one tick before timeout", offset: cfg.IdleTimeout - tick, want: false},
		{name: "at timeout", offset: cfg.IdleTimeout, want: true},
		{name: "one tick after timeout", offset: cfg.IdleTimeout + tick, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(cfg, start)
			if got := tracker.Check(start.Add(tt.offset)); got != tt.want {
				t.Fatalf("Check = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdleFiresOnceAndIsTerminal(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Unix(1_000, 0)
	tracker := NewTracker(cfg, start)

	if !tracker.Check(start.Add(cfg.IdleTimeout)) {
		t.Fatalf("expected idle transition")
	}
	if tracker.Check(start.Add(2 * cfg.IdleTimeout)) {
		t.Fatalf("expected the transition to fire once")
	}
	tracker.NoteInput(start.Add(2 * cfg.IdleTimeout))
	if !tracker.Idle() {
		t.Fatalf("input after idle must not revive the session")
	}
}

func TestInputDefersIdle(t *testing.T) {
	cfg := DefaultConfig()
	start := time.Unix(1_000, 0)
	tracker := NewTracker(cfg, start)
	tracker.NoteInput(start.Add(60 * time.Second))
	if tracker.Check(start.Add(cfg.IdleTimeout)) {
		t.Fatalf("expected input to reset the timer")
	}
	if tracker.SetFocus(false); !tracker.SetFocus(true) {
		t.Fatalf("expected focus change to be reported")
	}
	if tracker.Check(start.Add(60*time.Second + cfg.IdleTimeout - time.Millisecond)) {
		t.Fatalf("focus must not count as input or idle early")
	}
	if !tracker.Check(start.Add(60*time.Second + cfg.IdleTimeout)) {
		t.Fatalf("expected idle a full timeout after the last input")
	}
}

func TestCountFresh(t *testing.T) {
	now := time.UnixMilli(100_000)
	freshness := 15 * time.Second
	players := []record.Player{
		{ID: "a", Active: true, LastSeen: 99_000},
		{ID: "b", Active: true, LastSeen: 85_000},
		{ID: "c", Active: true, LastSeen: 80_000},
		{ID: "d", Active: false, LastSeen: 99_000},
		{ID: "e", Active: true},
	}
	if got := CountFresh(players, now, freshness); got != 2 {
		t.Fatalf("CountFresh = %d, want 2", got)
	}
}
