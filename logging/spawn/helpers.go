package spawn

import (
	"context"

	"flowarena/logging"
)

const (
	// EventBurstGranted is emitted when this client won the spawn gate for a tick.
	EventBurstGranted logging.EventType = "spawn.burst_granted"
	// EventBurstSkipped is emitted when a burst was not emitted by this client.
	EventBurstSkipped logging.EventType = "spawn.burst_skipped"
)

// BurstPayload captures the sizing of a granted burst.
type BurstPayload struct {
	Kind         string `json:"kind"`
	Count        int    `json:"count"`
	FreshPlayers int    `json:"freshPlayers"`
}

// SkipPayload captures why a burst was not emitted.
type SkipPayload struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// BurstGranted publishes a granted burst.
func BurstGranted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload BurstPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBurstGranted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: "spawn",
		Payload:  payload,
		Extra:    extra,
	})
}

// BurstSkipped publishes a debug event for a skipped burst.
func BurstSkipped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SkipPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBurstSkipped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: "spawn",
		Payload:  payload,
		Extra:    extra,
	})
}
