// Package slots assigns each player one of a small palette of color slots
// without a central authority. Claims are optimistic; contention is resolved
// deterministically from the claims themselves.
package slots

import (
	"time"

	"flowarena/internal/arena"
	"flowarena/internal/record"
)

// State is the local player's slot state.
type State int

const (
	Unassigned State = iota
	Assigned
	Queued
)

func (s State) String() string {
	switch s {
	case Assigned:
		return "assigned"
	case Queued:
		return "queued"
	default:
		return "unassigned"
	}
}

type Config struct {
	PaletteSize int
}

func DefaultConfig() Config {
	return Config{PaletteSize: arena.PaletteSize}
}

// Writer persists the local player's slot decisions. Calls must not block.
type Writer interface {
	ClaimSlot(slot int, claimedAt time.Time)
	EnterQueue()
}

// Listener is told about transitions worth surfacing.
type Listener interface {
	SlotClaimed(slot int)
	SlotQueued()
	SlotLost(slot int)
	ClaimAvailable(slot int)
}

// Holding reports whether a remote player currently holds its slot.
type Holding func(p record.Player) bool

// Allocator is the local player's view of slot ownership.
type Allocator struct {
	cfg      Config
	self     string
	writer   Writer
	listener Listener

	state          State
	slot           int
	claimedAt      int64
	claimAvailable bool
	holders        []record.Player
}

func New(cfg Config, self string, writer Writer, listener Listener) *Allocator {
	if cfg.PaletteSize <= 0 {
		cfg.PaletteSize = arena.PaletteSize
	}
	return &Allocator{cfg: cfg, self: self, writer: writer, listener: listener}
}

func (a *Allocator) State() State {
	return a.state
}

// Slot returns the held slot while assigned.
func (a *Allocator) Slot() (int, bool) {
	if a.state != Assigned {
		return 0, false
	}
	return a.slot, true
}

// ClaimAvailable reports whether a queued player may claim a vacancy.
// ClaimedAt is the claim timestamp (Unix millis) of the held slot, zero when
// no slot is held.
func (a *Allocator) ClaimedAt() int64 {
	if a.state != Assigned {
		return 0
	}
	return a.claimedAt
}

func (a *Allocator) ClaimAvailable() bool {
	return a.state == Queued && a.claimAvailable
}

// beats reports whether holder p outranks the local claim.
func (a *Allocator) beats(p record.Player) bool {
	if p.ClaimedAt != a.claimedAt {
		return p.ClaimedAt < a.claimedAt
	}
	return p.ID < a.self
}

func (a *Allocator) lowestFree() (int, bool) {
	used := make(map[int]bool, len(a.holders))
	for _, p := range a.holders {
		if slot, ok := p.Slot(); ok {
			used[slot] = true
		}
	}
	for slot := 0; slot < a.cfg.PaletteSize; slot++ {
		if !used[slot] {
			return slot, true
		}
	}
	return 0, false
}

// Observe reconciles local state with a players snapshot. holding filters
// which remote records count as occupying their slot (active and fresh).
func (a *Allocator) Observe(now time.Time, players []record.Player, holding Holding) {
	a.holders = a.holders[:0]
	for _, p := range players {
		if p.ID == a.self {
			continue
		}
		if _, ok := p.Slot(); !ok || !p.Active {
			continue
		}
		if holding != nil && !holding(p) {
			continue
		}
		a.holders = append(a.holders, p)
	}

	switch a.state {
	case Unassigned:
		a.claimOrQueue(now)
	case Assigned:
		for _, p := range a.holders {
			if slot, _ := p.Slot(); slot == a.slot && a.beats(p) {
				lost := a.slot
				a.state = Unassigned
				if a.listener != nil {
					a.listener.SlotLost(lost)
				}
				a.claimOrQueue(now)
				return
			}
		}
	case Queued:
		slot, free := a.lowestFree()
		if free && !a.claimAvailable && a.listener != nil {
			a.listener.ClaimAvailable(slot)
		}
		a.claimAvailable = free
	}
}

func (a *Allocator) claimOrQueue(now time.Time) {
	if slot, ok := a.lowestFree(); ok {
		a.claim(slot, now)
		return
	}
	a.state = Queued
	a.claimAvailable = false
	if a.writer != nil {
		a.writer.EnterQueue()
	}
	if a.listener != nil {
		a.listener.SlotQueued()
	}
}

func (a *Allocator) claim(slot int, now time.Time) {
	a.state = Assigned
	a.slot = slot
	a.claimedAt = record.Millis(now)
	a.claimAvailable = false
	if a.writer != nil {
		a.writer.ClaimSlot(slot, now)
	}
	if a.listener != nil {
		a.listener.SlotClaimed(slot)
	}
}

// Claim takes the lowest vacancy for a queued player. It is the explicit
// user action behind the claim-available affordance.
func (a *Allocator) Claim(now time.Time) (int, bool) {
	if a.state != Queued {
		return 0, false
	}
	slot, ok := a.lowestFree()
	if !ok {
		a.claimAvailable = false
		return 0, false
	}
	a.claim(slot, now)
	return slot, true
}

// Release drops any local claim without writing, as on teardown.
func (a *Allocator) Release() {
	a.state = Unassigned
	a.claimAvailable = false
	a.holders = a.holders[:0]
}
