package arena

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi / 2, 3 * math.Pi / 2},
		{5 * math.Pi, math.Pi},
		{2 * math.Pi, 0},
	}
	for _, tt := range tests {
		if got := NormalizeAngle(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("NormalizeAngle(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestInArcHandlesSeam(t *testing.T) {
	tests := []struct {
		name   string
		centre float64
		angle  float64
		want   bool
	}{
		{name: "centre", centre: 1, angle: 1, want: true},
		{name: "edge", centre: 1, angle: 1.29, want: true},
		{name: "outside", centre: 1, angle: 1.31, want: false},
		{name: "across zero from below", centre: 0.1, angle: 2*math.Pi - 0.15, want: true},
		{name: "across zero from above", centre: 2*math.Pi - 0.1, angle: 0.15, want: true},
		{name: "far across zero", centre: 0.1, angle: 2*math.Pi - 0.3, want: false},
		{name: "opposite", centre: 0, angle: math.Pi, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InArc(tt.centre, 0.6, tt.angle); got != tt.want {
				t.Fatalf("InArc(%f, 0.6, %f) = %v, want %v", tt.centre, tt.angle, got, tt.want)
			}
		})
	}
}

func TestFlowRadiusDeterministicAndMonotonic(t *testing.T) {
	angle := 2.71828
	multiplier := SpeedMultiplier(4, DefaultSpeedGrowth)
	prev := -1.0
	for ms := 0; ms <= 8000; ms += 16 {
		age := time.Duration(ms) * time.Millisecond
		a := FlowRadius(age, angle, multiplier)
		b := FlowRadius(age, angle, multiplier)
		if a != b {
			t.Fatalf("radius not reproducible at %v: %v vs %v", age, a, b)
		}
		if a < prev {
			t.Fatalf("radius decreased at %v: %v < %v", age, a, prev)
		}
		prev = a
	}
	if FlowRadius(-time.Second, angle, multiplier) != 0 {
		t.Fatalf("expected future spawn to clamp at centre")
	}
}

func TestSpeedBiasRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		angle := float64(i) / 1000 * 2 * math.Pi
		bias := SpeedBias(angle)
		if bias < biasMin || bias >= biasMin+biasSpan {
			t.Fatalf("bias %f out of range for angle %f", bias, angle)
		}
	}
}

func TestSpeedMultiplierGrowsGeometrically(t *testing.T) {
	if got := SpeedMultiplier(1, 1.5); got != 1 {
		t.Fatalf("level 1 multiplier = %f, want 1", got)
	}
	if got := SpeedMultiplier(3, 1.5); math.Abs(got-2.25) > 1e-12 {
		t.Fatalf("level 3 multiplier = %f, want 2.25", got)
	}
	if got := SpeedMultiplier(0, 1.5); got != 1 {
		t.Fatalf("levels below 1 clamp, got %f", got)
	}
}

func TestLayerRadiusAndRing(t *testing.T) {
	if LayerRadius(0) != InnerRingRadius {
		t.Fatalf("unexpected inner radius %f", LayerRadius(0))
	}
	if LayerRadius(Layers-1) >= ArenaRadius {
		t.Fatalf("outer ring must lie inside the arena")
	}
	if LayerRadius(99) != LayerRadius(Layers-1) {
		t.Fatalf("expected clamping of out-of-range layers")
	}
	if !OnRing(LayerRadius(2)+0.01, 2, 0.035) || OnRing(LayerRadius(2)+0.05, 2, 0.035) {
		t.Fatalf("ring tolerance check failed")
	}
}
