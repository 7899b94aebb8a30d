// Package flowcache keeps the local view of in-flight flows consistent with
// a store that only ever reports the newest window of them.
package flowcache

import (
	"sort"
	"time"

	"flowarena/internal/arena"
	"flowarena/internal/record"
)

type Config struct {
	// WindowSize is the subscription limit (newest K flows by spawnTime).
	WindowSize int
	// VisibleRadius is the arena boundary past which a flow is expired.
	VisibleRadius float64
	// Overshoot is how far past the boundary a flow lingers before eviction.
	Overshoot float64
	// Retention bounds how long removed identities stay blocked from re-admission.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		WindowSize:    40,
		VisibleRadius: arena.ArenaRadius,
		Overshoot:     0.25,
		Retention:     30 * time.Second,
	}
}

// Remover performs the remote side of a flow's retirement. Implementations
// must not block; expired reports whether the flow should be tagged first.
type Remover interface {
	Retire(flow record.Flow, expired bool)
}

// Entry is a cached flow at its last computed radius. Expired entries are
// past the arena boundary and still drawn until they leave the overshoot band.
type Entry struct {
	Flow    record.Flow
	Radius  float64
	Expired bool
}

type cached struct {
	flow    record.Flow
	radius  float64
	expired bool
}

// Stats summarizes one Merge.
type Stats struct {
	Added         int
	RemoteRemoved int
	Blocked       int
}

// Cache is the entity cache. It is not safe for concurrent use; the session
// loop owns it.
type Cache struct {
	cfg     Config
	remover Remover

	entries map[string]*cached
	retired map[string]struct{}
	removed map[string]time.Time
}

func New(cfg Config, remover Remover) *Cache {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.VisibleRadius <= 0 {
		cfg.VisibleRadius = arena.ArenaRadius
	}
	return &Cache{
		cfg:     cfg,
		remover: remover,
		entries: make(map[string]*cached),
		retired: make(map[string]struct{}),
		removed: make(map[string]time.Time),
	}
}

func radiusAt(flow record.Flow, now time.Time, multiplier float64) float64 {
	age := now.Sub(record.FromMillis(flow.SpawnTime))
	return arena.FlowRadius(age, flow.Angle, multiplier)
}

func older(a, b record.Flow) bool {
	if a.SpawnTime != b.SpawnTime {
		return a.SpawnTime < b.SpawnTime
	}
	return a.ID() < b.ID()
}

// Merge folds a windowed snapshot into the cache. Known flows keep their
// immutable fields; only the expired tag is taken from the store. Flows that
// vanished from inside the window before reaching the boundary were removed
// by another client and are evicted. Merging the same snapshot twice is a
// no-op.
func (c *Cache) Merge(window []record.Flow, now time.Time, multiplier float64) Stats {
	var stats Stats
	present := make(map[string]struct{}, len(window))
	var oldest *record.Flow
	for i := range window {
		flow := window[i]
		id := flow.ID()
		present[id] = struct{}{}
		if oldest == nil || older(flow, *oldest) {
			oldest = &window[i]
		}
		if _, blocked := c.removed[id]; blocked {
			stats.Blocked++
			continue
		}
		if existing, ok := c.entries[id]; ok {
			if flow.Expired {
				existing.expired = true
			}
			continue
		}
		radius := radiusAt(flow, now, multiplier)
		if radius > c.cfg.VisibleRadius+c.cfg.Overshoot {
			continue
		}
		c.entries[id] = &cached{flow: flow, radius: radius, expired: flow.Expired}
		stats.Added++
	}

	full := len(window) >= c.cfg.WindowSize
	for id, entry := range c.entries {
		if _, ok := present[id]; ok {
			continue
		}
		if entry.flow.Key == "" || entry.expired {
			continue
		}
		if full && (oldest == nil || !older(*oldest, entry.flow)) {
			continue
		}
		if radiusAt(entry.flow, now, multiplier) >= c.cfg.VisibleRadius {
			continue
		}
		delete(c.entries, id)
		stats.RemoteRemoved++
	}
	return stats
}

// Add admits a single flow outside of any snapshot, such as a locally
// spawned one before its echo arrives.
func (c *Cache) Add(flow record.Flow, now time.Time, multiplier float64) bool {
	id := flow.ID()
	if _, blocked := c.removed[id]; blocked {
		return false
	}
	if _, ok := c.entries[id]; ok {
		return false
	}
	c.entries[id] = &cached{flow: flow, radius: radiusAt(flow, now, multiplier), expired: flow.Expired}
	return true
}

// Advance moves every cached flow to its radius at now. A flow crossing the
// boundary is retired remotely exactly once; a flow past the overshoot is
// evicted. Every remaining flow, including those in the overshoot band, is
// returned oldest first.
func (c *Cache) Advance(now time.Time, multiplier float64) (active []Entry, evicted int) {
	limit := c.cfg.VisibleRadius + c.cfg.Overshoot
	for id, entry := range c.entries {
		entry.radius = radiusAt(entry.flow, now, multiplier)
		if entry.radius > c.cfg.VisibleRadius {
			entry.expired = true
			c.retire(id, entry.flow, true)
		}
		if entry.radius > limit {
			delete(c.entries, id)
			evicted++
			continue
		}
		active = append(active, Entry{Flow: entry.flow, Radius: entry.radius, Expired: entry.expired})
	}
	sort.Slice(active, func(i, j int) bool { return older(active[i].Flow, active[j].Flow) })
	return active, evicted
}

func (c *Cache) retire(id string, flow record.Flow, expired bool) {
	if _, done := c.retired[id]; done {
		return
	}
	c.retired[id] = struct{}{}
	if c.remover != nil && flow.Key != "" {
		c.remover.Retire(flow, expired)
	}
}

// Remove hides a locally caught flow, blocks it from re-admission and
// requests its remote deletion once.
func (c *Cache) Remove(id string, now time.Time) bool {
	entry, ok := c.entries[id]
	c.removed[id] = now
	if !ok {
		return false
	}
	delete(c.entries, id)
	c.retire(id, entry.flow, false)
	return true
}

// Removed reports whether id is blocked from re-admission.
func (c *Cache) Removed(id string) bool {
	_, ok := c.removed[id]
	return ok
}

// Get returns the cached flow for id.
func (c *Cache) Get(id string) (record.Flow, bool) {
	entry, ok := c.entries[id]
	if !ok {
		return record.Flow{}, false
	}
	return entry.flow, true
}

// Expired reports whether id is cached and tagged expired.
func (c *Cache) Expired(id string) bool {
	entry, ok := c.entries[id]
	return ok && entry.expired
}

// Len reports the number of cached flows.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Collect forgets removal and retirement bookkeeping older than the
// retention for identities no longer cached.
func (c *Cache) Collect(now time.Time) int {
	cutoff := now.Add(-c.cfg.Retention)
	dropped := 0
	for id, at := range c.removed {
		if at.Before(cutoff) {
			delete(c.removed, id)
			dropped++
		}
	}
	for id := range c.retired {
		if _, live := c.entries[id]; live {
			continue
		}
		if _, blocked := c.removed[id]; blocked {
			continue
		}
		delete(c.retired, id)
	}
	return dropped
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.entries = make(map[string]*cached)
	c.retired = make(map[string]struct{})
	c.removed = make(map[string]time.Time)
}
