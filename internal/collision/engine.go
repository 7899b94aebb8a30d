// Package collision hit-tests the local player's arc against visible flows
// and turns each first hit into exactly one scoring transition.
package collision

import (
	"sort"
	"time"

	"flowarena/internal/arena"
)

type Config struct {
	// ArcWidth is the angular width of the player's catching sector, in radians.
	ArcWidth float64
	// RadialTolerance is how far from the ring radius a flow still counts.
	RadialTolerance float64
	// HurtDuration bounds the visual hurt state after a hazard hit.
	HurtDuration time.Duration
	// ScoredRetention is how long a scored flow identity is remembered.
	ScoredRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		ArcWidth:        0.6,
		RadialTolerance: 0.035,
		HurtDuration:    600 * time.Millisecond,
		ScoredRetention: 30 * time.Second,
	}
}

// Player is the local player's collision shape.
type Player struct {
	ID    string
	Angle float64
	Layer int
}

// Target is a flow at its position for the current frame.
type Target struct {
	ID     string
	Angle  float64
	Radius float64
	Evil   bool
	Layer  int
}

// Hit is a committed scoring transition.
type Hit struct {
	FlowID string
	Evil   bool
	Angle  float64
	Radius float64
	Layer  int
}

// Committer applies scoring transitions to the shared aggregates. Calls must
// not block the frame.
type Committer interface {
	Catch(hit Hit)
	Hazard(hit Hit)
}

// Engine keeps the per-session bookkeeping that makes scoring idempotent.
type Engine struct {
	cfg       Config
	committer Committer
	scored    map[string]time.Time
	pending   map[string]time.Time
	hurtUntil time.Time
}

func NewEngine(cfg Config, committer Committer) *Engine {
	return &Engine{
		cfg:       cfg,
		committer: committer,
		scored:    make(map[string]time.Time),
		pending:   make(map[string]time.Time),
	}
}

// Overlaps reports whether target lies on player's ring and inside the arc.
// The flow's own layer tag is advisory and ignored.
func (e *Engine) Overlaps(player Player, target Target) bool {
	if !arena.OnRing(target.Radius, player.Layer, e.cfg.RadialTolerance) {
		return false
	}
	return arena.InArc(player.Angle, e.cfg.ArcWidth, target.Angle)
}

// Check tests every target against player and commits each new hit once.
// A nil player (not joined yet) skips the frame.
func (e *Engine) Check(now time.Time, player *Player, targets []Target) []Hit {
	if player == nil {
		return nil
	}
	var hits []Hit
	for _, target := range targets {
		if target.ID == "" {
			continue
		}
		if _, done := e.scored[target.ID]; done {
			continue
		}
		if !e.Overlaps(*player, target) {
			continue
		}
		e.scored[target.ID] = now
		e.pending[target.ID] = now
		hit := Hit{FlowID: target.ID, Evil: target.Evil, Angle: target.Angle, Radius: target.Radius, Layer: player.Layer}
		if target.Evil {
			e.hurtUntil = now.Add(e.cfg.HurtDuration)
			if e.committer != nil {
				e.committer.Hazard(hit)
			}
		} else if e.committer != nil {
			e.committer.Catch(hit)
		}
		hits = append(hits, hit)
	}
	return hits
}

// Scored reports whether id already produced a transition this session.
func (e *Engine) Scored(id string) bool {
	_, ok := e.scored[id]
	return ok
}

// PendingRemoval reports whether id was hit and should be hidden.
func (e *Engine) PendingRemoval(id string) bool {
	_, ok := e.pending[id]
	return ok
}

// PendingIDs lists identities awaiting removal in sorted order.
func (e *Engine) PendingIDs() []string {
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Hurt reports whether the bounded hurt state is active.
func (e *Engine) Hurt(now time.Time) bool {
	return now.Before(e.hurtUntil)
}

// CollectGarbage forgets identities scored longer than the retention ago.
func (e *Engine) CollectGarbage(now time.Time) int {
	cutoff := now.Add(-e.cfg.ScoredRetention)
	dropped := 0
	for id, at := range e.scored {
		if at.Before(cutoff) {
			delete(e.scored, id)
			dropped++
		}
	}
	for id, at := range e.pending {
		if at.Before(cutoff) {
			delete(e.pending, id)
		}
	}
	return dropped
}

// Reset clears all bookkeeping, as on a session rollover.
func (e *Engine) Reset() {
	e.scored = make(map[string]time.Time)
	e.pending = make(map[string]time.Time)
	e.hurtUntil = time.Time{}
}

// Len reports how many identities are remembered as scored.
func (e *Engine) Len() int {
	return len(e.scored)
}
