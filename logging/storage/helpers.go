package storage

import (
	"context"

	"scenehub/server/logging"
)

const (
	// EventPersistFailed is emitted when a snapshot write fails and the
	// in-memory mutation is rolled back.
	EventPersistFailed logging.EventType = "storage.persist_failed"
)

// PersistFailedPayload identifies the failed operation.
type PersistFailedPayload struct {
	Op      string `json:"op"`
	Backend string `json:"backend"`
	Error   string `json:"error"`
}

// PersistFailed publishes an error event for a failed snapshot write.
func PersistFailed(ctx context.Context, pub logging.Publisher, revision uint64, actor logging.EntityRef, payload PersistFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPersistFailed,
		Revision: revision,
		Actor:    actor,
		Targets:  []logging.EntityRef{{ID: payload.Backend, Kind: logging.EntityKindStore}},
		Severity: logging.SeverityError,
		Category: logging.CategoryStorage,
		Payload:  payload,
	})
}
