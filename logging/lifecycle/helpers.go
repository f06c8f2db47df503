package lifecycle

import (
	"context"

	"scenehub/server/logging"
)

const (
	// EventClientConnected is emitted when a client session is registered.
	EventClientConnected logging.EventType = "lifecycle.client_connected"
	// EventClientDisconnected is emitted when a client session ends.
	EventClientDisconnected logging.EventType = "lifecycle.client_disconnected"
	// EventClientRefused is emitted when a connection is refused at the cap.
	EventClientRefused logging.EventType = "lifecycle.client_refused"
)

// ConnectionPayload carries the live connection total after the change.
type ConnectionPayload struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

// ClientConnected publishes a client connect event.
func ClientConnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventClientConnected, logging.SeverityInfo, actor, payload)
}

// ClientDisconnected publishes a client disconnect event.
func ClientDisconnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventClientDisconnected, logging.SeverityInfo, actor, payload)
}

// ClientRefused publishes a warning when admission control rejects a client.
func ClientRefused(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventClientRefused, logging.SeverityWarn, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, actor logging.EntityRef, payload ConnectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
