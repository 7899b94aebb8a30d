package slots

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"flowarena/internal/record"
)

// room is a shared players collection that allocators write into.
type room struct {
	players map[string]record.Player
	writes  int
}

func newRoom() *room {
	return &room{players: make(map[string]record.Player)}
}

func (r *room) snapshot() []record.Player {
	out := make([]record.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type roomWriter struct {
	room *room
	id   string
}

func (w roomWriter) ClaimSlot(slot int, claimedAt time.Time) {
	p := w.room.players[w.id]
	p.ID = w.id
	p.ColorIndex = record.SlotPtr(slot)
	p.Active = true
	p.Queued = false
	p.ClaimedAt = record.Millis(claimedAt)
	w.room.players[w.id] = p
	w.room.writes++
}

func (w roomWriter) EnterQueue() {
	p := w.room.players[w.id]
	p.ID = w.id
	p.ColorIndex = nil
	p.Active = false
	p.Queued = true
	w.room.players[w.id] = p
	w.room.writes++
}

type events struct {
	claimed, queued, lost, available int
}

func (e *events) SlotClaimed(int)    { e.claimed++ }
func (e *events) SlotQueued()        { e.queued++ }
func (e *events) SlotLost(int)       { e.lost++ }
func (e *events) ClaimAvailable(int) { e.available++ }

func settle(t *testing.T, r *room, allocators []*Allocator, start time.Time) {
	t.Helper()
	for round := 0; round < 20; round++ {
		snap := r.snapshot()
		before := r.writes
		now := start.Add(time.Duration(round) * time.Millisecond)
		for _, a := range allocators {
			a.Observe(now, snap, nil)
		}
		if r.writes == before {
			return
		}
	}
	t.Fatalf("allocators did not settle")
}

func TestSimultaneousJoinsConvergeOnDistinctSlots(t *testing.T) {
	r := newRoom()
	cfg := Config{PaletteSize: 3}
	var allocators []*Allocator
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("p%d", i)
		allocators = append(allocators, New(cfg, id, roomWriter{room: r, id: id}, nil))
	}
	settle(t, r, allocators, time.UnixMilli(1_000))

	seen := make(map[int]string)
	assigned, queued := 0, 0
	for _, a := range allocators {
		switch a.State() {
		case Assigned:
			slot, _ := a.Slot()
			if owner, dup := seen[slot]; dup {
				t.Fatalf("slot %d held by %s and %s", slot, owner, a.self)
			}
			seen[slot] = a.self
			assigned++
		case Queued:
			queued++
		}
	}
	if assigned != 3 || queued != 2 {
		t.Fatalf("expected 3 assigned and 2 queued, got %d and %d", assigned, queued)
	}
	if seen[0] != "p0" {
		t.Fatalf("expected tie-break by id to give slot 0 to p0, got %s", seen[0])
	}
}

func TestContentionForLastSlotQueuesLoserUntilVacancy(t *testing.T) {
	r := newRoom()
	cfg := Config{PaletteSize: 1}
	evA, evB := &events{}, &events{}
	a := New(cfg, "a", roomWriter{room: r, id: "a"}, evA)
	b := New(cfg, "b", roomWriter{room: r, id: "b"}, evB)
	now := time.UnixMilli(5_000)

	// b claims first, a claims a moment later from a stale snapshot.
	b.Observe(now, nil, nil)
	a.Observe(now.Add(time.Millisecond), nil, nil)

	snap := r.snapshot()
	a.Observe(now.Add(2*time.Millisecond), snap, nil)
	b.Observe(now.Add(2*time.Millisecond), snap, nil)

	if b.State() != Assigned || a.State() != Queued {
		t.Fatalf("expected earlier claim to win, a=%s b=%s", a.State(), b.State())
	}
	if evA.lost != 1 || evA.queued != 1 || evB.lost != 0 {
		t.Fatalf("unexpected events a=%+v b=%+v", evA, evB)
	}
	if a.ClaimAvailable() {
		t.Fatalf("no vacancy yet")
	}
	if _, ok := a.Claim(now); ok {
		t.Fatalf("claim must fail without a vacancy")
	}

	delete(r.players, "b")
	a.Observe(now.Add(time.Second), r.snapshot(), nil)
	a.Observe(now.Add(time.Second), r.snapshot(), nil)
	if !a.ClaimAvailable() || evA.available != 1 {
		t.Fatalf("expected one claim-available signal, got %d", evA.available)
	}
	slot, ok := a.Claim(now.Add(2 * time.Second))
	if !ok || slot != 0 || a.State() != Assigned {
		t.Fatalf("expected claim of slot 0, got %d ok=%v", slot, ok)
	}
}

func TestHoldingPredicateIgnoresStaleClaims(t *testing.T) {
	r := newRoom()
	r.players["ghost"] = record.Player{ID: "ghost", ColorIndex: record.SlotPtr(0), Active: true, LastSeen: 0}
	a := New(Config{PaletteSize: 2}, "a", roomWriter{room: r, id: "a"}, nil)
	now := time.UnixMilli(1_000_000)
	fresh := func(p record.Player) bool { return now.Sub(record.FromMillis(p.LastSeen)) < 15*time.Second }

	a.Observe(now, r.snapshot(), fresh)
	if slot, ok := a.Slot(); !ok || slot != 0 {
		t.Fatalf("expected stale holder to be ignored, got slot %d ok=%v", slot, ok)
	}
}

func TestOwnRecordIsIgnored(t *testing.T) {
	r := newRoom()
	a := New(Config{PaletteSize: 1}, "a", roomWriter{room: r, id: "a"}, nil)
	now := time.UnixMilli(1_000)
	a.Observe(now, nil, nil)
	a.Observe(now, r.snapshot(), nil)
	if a.State() != Assigned {
		t.Fatalf("own claim must not contend with itself, state %s", a.State())
	}
}
