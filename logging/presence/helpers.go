package presence

import (
	"context"

	"flowarena/logging"
)

const (
	// EventWentIdle is emitted once when the local client stops on inactivity.
	EventWentIdle logging.EventType = "presence.went_idle"
	// EventFocusChanged is emitted when window focus or visibility flips.
	EventFocusChanged logging.EventType = "presence.focus_changed"
	// EventInputRejected is emitted when local input fails validation.
	EventInputRejected logging.EventType = "presence.input_rejected"
)

// IdlePayload records how long the client went without input.
type IdlePayload struct {
	IdleForMillis int64 `json:"idleForMillis"`
}

// FocusPayload records the informational window state.
type FocusPayload struct {
	Focused bool `json:"focused"`
	Visible bool `json:"visible"`
}

// InputRejectedPayload records the rejected values.
type InputRejectedPayload struct {
	Reason string  `json:"reason"`
	Angle  float64 `json:"angle"`
	Layer  int     `json:"layer"`
}

// WentIdle publishes the idle transition.
func WentIdle(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload IdlePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWentIdle,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: "presence",
		Payload:  payload,
		Extra:    extra,
	})
}

// FocusChanged publishes a focus or visibility flip.
func FocusChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FocusPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFocusChanged,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: "presence",
		Payload:  payload,
		Extra:    extra,
	})
}

// InputRejected publishes a warning for invalid local input.
func InputRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload InputRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInputRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: "presence",
		Payload:  payload,
		Extra:    extra,
	})
}
