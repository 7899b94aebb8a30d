package storeops

import (
	"context"

	"flowarena/logging"
)

const (
	// EventMaintenanceFailed is emitted when a best-effort store write fails.
	EventMaintenanceFailed logging.EventType = "store.maintenance_failed"
	// EventRecordRejected is emitted when a snapshot child fails validation.
	EventRecordRejected logging.EventType = "store.record_rejected"
)

// FailurePayload names the failed operation.
type FailurePayload struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RejectPayload names the rejected record.
type RejectPayload struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// MaintenanceFailed publishes a swallowed store failure.
func MaintenanceFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FailurePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMaintenanceFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySystem,
		Payload:  payload,
		Extra:    extra,
	})
}

// RecordRejected publishes a debug event for an invalid record.
func RecordRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RejectPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRecordRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySystem,
		Payload:  payload,
		Extra:    extra,
	})
}
