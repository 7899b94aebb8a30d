package slots

import (
	"context"

	"flowarena/logging"
)

const (
	// EventSlotClaimed is emitted when the local player writes a slot claim.
	EventSlotClaimed logging.EventType = "slots.claimed"
	// EventSlotQueued is emitted when no slot was free and the player waits.
	EventSlotQueued logging.EventType = "slots.queued"
	// EventSlotLost is emitted when another player kept a contended slot.
	EventSlotLost logging.EventType = "slots.lost_contention"
	// EventClaimAvailable is emitted when a queued player observes a vacancy.
	EventClaimAvailable logging.EventType = "slots.claim_available"
)

// SlotPayload carries the slot index involved.
type SlotPayload struct {
	Slot int `json:"slot"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: "slots",
		Payload:  payload,
		Extra:    extra,
	})
}

// SlotClaimed publishes a claim.
func SlotClaimed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SlotPayload, extra map[string]any) {
	publish(ctx, pub, EventSlotClaimed, logging.SeverityInfo, tick, actor, payload, extra)
}

// SlotQueued publishes entry into the wait queue.
func SlotQueued(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventSlotQueued, logging.SeverityInfo, tick, actor, nil, extra)
}

// SlotLost publishes a contention loss.
func SlotLost(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SlotPayload, extra map[string]any) {
	publish(ctx, pub, EventSlotLost, logging.SeverityWarn, tick, actor, payload, extra)
}

// ClaimAvailable publishes the vacancy affordance for a queued player.
func ClaimAvailable(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SlotPayload, extra map[string]any) {
	publish(ctx, pub, EventClaimAvailable, logging.SeverityInfo, tick, actor, payload, extra)
}
