package lifecycle

import (
	"context"

	"flowarena/logging"
)

const (
	// EventSessionStarted is emitted when the local simulation session starts.
	EventSessionStarted logging.EventType = "lifecycle.session_started"
	// EventSessionStopped is emitted when the local simulation session is torn down.
	EventSessionStopped logging.EventType = "lifecycle.session_stopped"
	// EventLevelChanged is emitted when the difficulty level advances.
	EventLevelChanged logging.EventType = "lifecycle.level_changed"
	// EventRolledOver is emitted when the difficulty ramp wraps to a new session epoch.
	EventRolledOver logging.EventType = "lifecycle.rolled_over"
)

// StartedPayload captures spawn metadata for the local player.
type StartedPayload struct {
	Angle  float64 `json:"angle"`
	Layer  int     `json:"layer"`
	Locale string  `json:"locale,omitempty"`
}

// StoppedPayload captures the reason the session ended.
type StoppedPayload struct {
	Reason string `json:"reason"`
}

// LevelPayload captures the new difficulty level.
type LevelPayload struct {
	Level      int     `json:"level"`
	Multiplier float64 `json:"multiplier"`
}

// RolloverPayload captures the new session epoch.
type RolloverPayload struct {
	EpochMillis int64 `json:"epochMillis"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: "lifecycle",
		Payload:  payload,
		Extra:    extra,
	})
}

// SessionStarted publishes a session start.
func SessionStarted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StartedPayload, extra map[string]any) {
	publish(ctx, pub, EventSessionStarted, tick, actor, payload, extra)
}

// SessionStopped publishes a session teardown.
func SessionStopped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StoppedPayload, extra map[string]any) {
	publish(ctx, pub, EventSessionStopped, tick, actor, payload, extra)
}

// LevelChanged publishes a difficulty change.
func LevelChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload LevelPayload, extra map[string]any) {
	publish(ctx, pub, EventLevelChanged, tick, actor, payload, extra)
}

// RolledOver publishes a session rollover.
func RolledOver(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RolloverPayload, extra map[string]any) {
	publish(ctx, pub, EventRolledOver, tick, actor, payload, extra)
}
