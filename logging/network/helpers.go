package network

import (
	"context"

	"scenehub/server/logging"
)

const (
	// EventProtocolViolation is emitted for event sequences the protocol does
	// not allow, such as a mutation from an unregistered client.
	EventProtocolViolation logging.EventType = "network.protocol_violation"
	// EventMalformedPayload is emitted when an inbound frame cannot be used.
	EventMalformedPayload logging.EventType = "network.malformed_payload"
	// EventBroadcastDropped is emitted when a client's send queue is full.
	EventBroadcastDropped logging.EventType = "network.broadcast_dropped"
	// EventCommandRejected is emitted when an event is rejected back to its originator.
	EventCommandRejected logging.EventType = "network.command_rejected"
)

// ViolationPayload describes what was out of sequence.
type ViolationPayload struct {
	Event  string `json:"event"`
	Detail string `json:"detail"`
}

// MalformedPayload describes why an inbound frame was discarded.
type MalformedPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

// DropPayload identifies the frame that could not be queued.
type DropPayload struct {
	Event string `json:"event"`
}

// RejectPayload captures the reason sent back to the originator.
type RejectPayload struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// ProtocolViolation publishes a warning for an out-of-sequence event.
func ProtocolViolation(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ViolationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventProtocolViolation,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// Malformed publishes a warning for an unusable inbound frame.
func Malformed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, seq uint64, payload MalformedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedPayload,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Seq:      seq,
	})
}

// BroadcastDropped publishes a warning when fan-out to one client is skipped.
func BroadcastDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DropPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBroadcastDropped,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// CommandRejected publishes an info event when an inbound event is rejected.
func CommandRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, seq uint64, payload RejectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommandRejected,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Seq:      seq,
	})
}
