package scoring

import (
	"context"

	"flowarena/logging"
)

const (
	// EventFlowCaught is emitted when the local player catches a benign flow.
	EventFlowCaught logging.EventType = "scoring.flow_caught"
	// EventHazardHit is emitted when the local player is hit by a hazardous flow.
	EventHazardHit logging.EventType = "scoring.hazard_hit"
)

// HitPayload describes the flow that produced a scoring transition.
type HitPayload struct {
	Angle  float64 `json:"angle"`
	Radius float64 `json:"radius"`
	Layer  int     `json:"layer"`
	Delta  int     `json:"delta"`
}

// FlowCaught publishes a catch event.
func FlowCaught(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, flow logging.EntityRef, payload HitPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFlowCaught,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{flow},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		Payload:  payload,
		Extra:    extra,
	})
}

// HazardHit publishes a hazard hit event.
func HazardHit(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, flow logging.EntityRef, payload HitPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHazardHit,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{flow},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGameplay,
		Payload:  payload,
		Extra:    extra,
	})
}
