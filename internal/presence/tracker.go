// Package presence tracks local input activity and decides which remote
// players count as online.
package presence

import (
	"time"

	"flowarena/internal/record"
)

type Config struct {
	IdleTimeout time.Duration
	Heartbeat   time.Duration
	// Freshness is how recent lastSeen must be for a player to count as online.
	Freshness time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout: 90 * time.Second,
		Heartbeat:   5 * time.Second,
		Freshness:   15 * time.Second,
	}
}

// Tracker is the local idle state machine: active until no input arrives
// for IdleTimeout, then idle for good. Leaving idle is a new session.
type Tracker struct {
	cfg       Config
	lastInput time.Time
	idle      bool
	focused   bool
	visible   bool
}

func NewTracker(cfg Config, now time.Time) *Tracker {
	return &Tracker{cfg: cfg, lastInput: now, focused: true, visible: true}
}

// NoteInput records local movement. Ignored once idle.
func (t *Tracker) NoteInput(now time.Time) {
	if t.idle {
		return
	}
	if now.After(t.lastInput) {
		t.lastInput = now
	}
}

// Check reports true exactly once, on the transition into idle.
func (t *Tracker) Check(now time.Time) bool {
	if t.idle || t.cfg.IdleTimeout <= 0 {
		return false
	}
	if now.Sub(t.lastInput) >= t.cfg.IdleTimeout {
		t.idle = true
		return true
	}
	return false
}

func (t *Tracker) Idle() bool {
	return t.idle
}

// IdleFor is the time since the last input.
func (t *Tracker) IdleFor(now time.Time) time.Duration {
	return now.Sub(t.lastInput)
}

// SetFocus records window focus and reports whether it changed. Focus alone
// never counts as input.
func (t *Tracker) SetFocus(focused bool) bool {
	if t.focused == focused {
		return false
	}
	t.focused = focused
	return true
}

// SetVisible records page visibility and reports whether it changed.
func (t *Tracker) SetVisible(visible bool) bool {
	if t.visible == visible {
		return false
	}
	t.visible = visible
	return true
}

func (t *Tracker) Focused() bool { return t.focused }
func (t *Tracker) Visible() bool { return t.visible }

// Online reports whether p was seen within freshness of now.
func Online(p record.Player, now time.Time, freshness time.Duration) bool {
	if p.LastSeen <= 0 {
		return false
	}
	return now.Sub(record.FromMillis(p.LastSeen)) <= freshness
}

// CountFresh counts active, online players. Queued players wait for a slot
// and do not count.
func CountFresh(players []record.Player, now time.Time, freshness time.Duration) int {
	n := 0
	for _, p := range players {
		if p.Active && Online(p, now, freshness) {
			n++
		}
	}
	return n
}
