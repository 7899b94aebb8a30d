// Package spawn decides how many flows a room emits and elects, per spawn
// tick, the single client that emits them.
package spawn

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"flowarena/internal/arena"
	"flowarena/internal/record"
	"flowarena/internal/store"
)

// Kind distinguishes benign bursts from hazard bursts.
type Kind string

const (
	KindBenign Kind = "benign"
	KindHazard Kind = "hazard"
)

type Config struct {
	Interval  time.Duration
	Gate      time.Duration
	PerPlayer int
	MinBurst  int
	MaxBurst  int
	// Jitter spreads the pushes of one burst over [0, Jitter].
	Jitter time.Duration

	HazardInterval time.Duration
	HazardGate     time.Duration
	HazardMin      int
	HazardMax      int
	// HazardLevel is the first difficulty level that emits hazards.
	HazardLevel int
}

func DefaultConfig() Config {
	return Config{
		Interval:       2500 * time.Millisecond,
		Gate:           2 * time.Second,
		PerPlayer:      2,
		MinBurst:       2,
		MaxBurst:       10,
		Jitter:         500 * time.Millisecond,
		HazardInterval: 7 * time.Second,
		HazardGate:     6 * time.Second,
		HazardMin:      1,
		HazardMax:      3,
		HazardLevel:    3,
	}
}

// Planned is one push of a burst, due at At.
type Planned struct {
	At   time.Time
	Flow record.Flow
}

// Coordinator sizes bursts and runs the spawn gate. It holds no room state;
// the session decides when to call it.
type Coordinator struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config, rng *rand.Rand) *Coordinator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Coordinator{cfg: cfg, rng: rng}
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// BurstSize is the number of flows to emit for fresh online players.
// An empty room emits nothing.
func (c *Coordinator) BurstSize(kind Kind, fresh int) int {
	if fresh <= 0 {
		return 0
	}
	if kind == KindHazard {
		return clamp((fresh+1)/2, c.cfg.HazardMin, c.cfg.HazardMax)
	}
	return clamp(fresh*c.cfg.PerPlayer, c.cfg.MinBurst, c.cfg.MaxBurst)
}

// HazardAllowed reports whether level is high enough for hazard bursts.
func (c *Coordinator) HazardAllowed(level int) bool {
	return level >= c.cfg.HazardLevel
}

// GatePath is the shared timestamp guarding a burst kind.
func GatePath(kind Kind) store.Path {
	if kind == KindHazard {
		return store.Join(store.Meta, "lastHazardSpawn")
	}
	return store.Join(store.Meta, "lastSpawn")
}

func (c *Coordinator) gateWindow(kind Kind) time.Duration {
	if kind == KindHazard {
		return c.cfg.HazardGate
	}
	return c.cfg.Gate
}

// GateTx builds the gate transaction: commit now when the last grant is
// older than window, abort otherwise. A grant stamped implausibly far in the
// future is treated as stale so one skewed clock cannot stall the room.
func GateTx(now time.Time, window time.Duration) func(last *int64) (*int64, bool) {
	nowMillis := record.Millis(now)
	windowMillis := window.Milliseconds()
	return func(last *int64) (*int64, bool) {
		if last != nil {
			elapsed := nowMillis - *last
			if elapsed >= 0 && elapsed < windowMillis {
				return nil, false
			}
			if elapsed < 0 && -elapsed <= windowMillis {
				return nil, false
			}
		}
		next := nowMillis
		return &next, true
	}
}

// Acquire runs the gate transaction for kind. It blocks on the store and
// must not run on the session loop.
func (c *Coordinator) Acquire(ctx context.Context, st store.Store, kind Kind, now time.Time) (bool, error) {
	result, err := store.TransactJSON(ctx, st, GatePath(kind), GateTx(now, c.gateWindow(kind)))
	if err != nil {
		return false, fmt.Errorf("spawn: acquire %s gate: %w", kind, err)
	}
	return result.Committed, nil
}

// Plan lays out count pushes jittered after now. Each flow's spawnTime is
// its push time so its trajectory starts when it appears.
func (c *Coordinator) Plan(kind Kind, now time.Time, count int) []Planned {
	planned := make([]Planned, 0, count)
	for i := 0; i < count; i++ {
		var delay time.Duration
		if c.cfg.Jitter > 0 {
			delay = time.Duration(c.rng.Int63n(int64(c.cfg.Jitter) + 1))
		}
		at := now.Add(delay)
		planned = append(planned, Planned{
			At: at,
			Flow: record.Flow{
				SpawnTime: record.Millis(at),
				Angle:     c.rng.Float64() * 2 * math.Pi,
				Evil:      kind == KindHazard,
				Layer:     c.rng.Intn(arena.Layers),
			},
		})
	}
	sort.SliceStable(planned, func(i, j int) bool { return planned[i].At.Before(planned[j].At) })
	return planned
}

// Emit pushes one planned flow. Blocking.
func Emit(ctx context.Context, st store.Store, flow record.Flow) (string, error) {
	key, err := st.Push(ctx, store.Join(store.Flows), flow)
	if err != nil {
		return "", fmt.Errorf("spawn: push flow: %w", err)
	}
	return key, nil
}
