// Package arena holds the pure geometry every client evaluates identically:
// ring radii, flow trajectories and arc overlap.
package arena

import (
	"math"
	"time"
)

const (
	// Layers is the number of concentric rings a player can occupy.
	Layers = 5
	// PaletteSize bounds the number of distinct color slots.
	PaletteSize = 8

	// ArenaRadius is the strict boundary; flows beyond it are expired.
	ArenaRadius = 1.0
	// InnerRingRadius is the radius of layer 0.
	InnerRingRadius = 0.36
	// LayerSpacing separates adjacent rings.
	LayerSpacing = 0.13

	// FlowTravel is the time a flow with bias 1 needs to reach ArenaRadius at level 1.
	FlowTravel = 6 * time.Second

	biasMin  = 0.8
	biasSpan = 0.4

	// DefaultSpeedGrowth is the per-level geometric growth of flow speed.
	DefaultSpeedGrowth = 1.12
)

const fullTurn = 2 * math.Pi

// NormalizeAngle maps any finite angle into [0, 2π).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, fullTurn)
	if a < 0 {
		a += fullTurn
	}
	if a >= fullTurn {
		a = 0
	}
	return a
}

// ValidLayer reports whether layer names one of the rings.
func ValidLayer(layer int) bool {
	return layer >= 0 && layer < Layers
}

// LayerRadius is the ring radius of layer, clamped into the valid range.
func LayerRadius(layer int) float64 {
	if layer < 0 {
		layer = 0
	}
	if layer >= Layers {
		layer = Layers - 1
	}
	return InnerRingRadius + float64(layer)*LayerSpacing
}

// SpeedBias derives a flow's fixed speed factor from its emission angle so
// every client computes the same trajectory from (angle, spawnTime) alone.
func SpeedBias(angle float64) float64 {
	h := math.Sin(angle*12.9898) * 43758.5453
	frac := h - math.Floor(h)
	return biasMin + biasSpan*frac
}

// SpeedMultiplier is the flow speed factor at a difficulty level.
func SpeedMultiplier(level int, growth float64) float64 {
	if level < 1 {
		level = 1
	}
	if growth <= 0 {
		growth = DefaultSpeedGrowth
	}
	return math.Pow(growth, float64(level-1))
}

// FlowRadius is the distance from the centre of a flow of the given age.
// Negative ages (spawn times slightly in the future) clamp to the centre.
func FlowRadius(age time.Duration, angle, multiplier float64) float64 {
	if age <= 0 {
		return 0
	}
	progress := age.Seconds() / FlowTravel.Seconds()
	return progress * SpeedBias(angle) * multiplier * ArenaRadius
}

// AngularDistance is the absolute shortest angle between a and b, in [0, π].
func AngularDistance(a, b float64) float64 {
	d := math.Abs(NormalizeAngle(a) - NormalizeAngle(b))
	if d > math.Pi {
		d = fullTurn - d
	}
	return d
}

// InArc reports whether angle lies within the sector of width arcWidth
// centred on centre. The sector may straddle the 0/2π seam.
func InArc(centre, arcWidth, angle float64) bool {
	half := arcWidth / 2
	start := NormalizeAngle(centre - half)
	end := NormalizeAngle(centre + half)
	a := NormalizeAngle(angle)
	if start <= end {
		return a >= start && a <= end
	}
	// Sector wraps through zero.
	return a >= start || a <= end
}

// OnRing reports whether radius lies within tolerance of layer's ring.
func OnRing(radius float64, layer int, tolerance float64) bool {
	return math.Abs(radius-LayerRadius(layer)) <= tolerance
}
