// Package difficulty ramps the flow speed level over wall-clock time and
// rolls the session over after the final level.
package difficulty

import (
	"time"

	"flowarena/internal/arena"
)

type Config struct {
	MaxLevel int
	Interval time.Duration
	Growth   float64
}

func DefaultConfig() Config {
	return Config{MaxLevel: 10, Interval: 30 * time.Second, Growth: arena.DefaultSpeedGrowth}
}

// Change reports what a Tick did.
type Change struct {
	LevelChanged bool
	RolledOver   bool
	Level        int
}

// Controller advances one level per full interval of online time. Time spent
// with nobody online pauses the ramp.
type Controller struct {
	cfg         Config
	level       int
	levelStart  time.Time
	pausedTotal time.Duration
	pausedSince time.Time
	epoch       time.Time
}

func New(cfg Config, now time.Time) *Controller {
	if cfg.MaxLevel < 1 {
		cfg.MaxLevel = 1
	}
	return &Controller{cfg: cfg, level: 1, levelStart: now, epoch: now}
}

func (c *Controller) Level() int {
	return c.level
}

// Multiplier is the speed multiplier at the current level.
func (c *Controller) Multiplier() float64 {
	return arena.SpeedMultiplier(c.level, c.cfg.Growth)
}

// Epoch is when the current session started or last rolled over.
func (c *Controller) Epoch() time.Time {
	return c.epoch
}

// Paused reports whether the ramp is paused.
func (c *Controller) Paused() bool {
	return !c.pausedSince.IsZero()
}

// Elapsed is the non-paused time spent at the current level.
func (c *Controller) Elapsed(now time.Time) time.Duration {
	paused := c.pausedTotal
	if !c.pausedSince.IsZero() {
		paused += now.Sub(c.pausedSince)
	}
	elapsed := now.Sub(c.levelStart) - paused
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Tick advances the ramp. online reports whether any player is currently
// fresh; while false the level never advances.
func (c *Controller) Tick(now time.Time, online bool) Change {
	if !online {
		if c.pausedSince.IsZero() {
			c.pausedSince = now
		}
		return Change{Level: c.level}
	}
	if !c.pausedSince.IsZero() {
		c.pausedTotal += now.Sub(c.pausedSince)
		c.pausedSince = time.Time{}
	}
	if c.cfg.Interval <= 0 || c.Elapsed(now) < c.cfg.Interval {
		return Change{Level: c.level}
	}
	change := Change{LevelChanged: true}
	if c.level < c.cfg.MaxLevel {
		c.level++
	} else {
		c.level = 1
		c.epoch = now
		change.RolledOver = true
	}
	c.levelStart = now
	c.pausedTotal = 0
	change.Level = c.level
	return change
}
