package scene

import (
	"context"

	"scenehub/server/logging"
)

const (
	// EventObjectAdded is emitted after an add is committed.
	EventObjectAdded logging.EventType = "scene.object_added"
	// EventObjectRemoved is emitted after a remove is committed.
	EventObjectRemoved logging.EventType = "scene.object_removed"
	// EventObjectUpdated is emitted after an update replaced an entry.
	EventObjectUpdated logging.EventType = "scene.object_updated"
	// EventUpdateMissed is emitted when an update names an id that is not in the scene.
	EventUpdateMissed logging.EventType = "scene.update_missed"
	// EventSceneLoaded is emitted once at startup after the durable state is read.
	EventSceneLoaded logging.EventType = "scene.loaded"
)

// MutationPayload summarises a committed mutation.
type MutationPayload struct {
	ObjectID string `json:"objectId"`
	Objects  int    `json:"objects"`
}

// LoadedPayload summarises the scene recovered at startup.
type LoadedPayload struct {
	Objects int  `json:"objects"`
	Fresh   bool `json:"fresh"`
}

func ObjectAdded(ctx context.Context, pub logging.Publisher, revision uint64, actor logging.EntityRef, payload MutationPayload) {
	publishMutation(ctx, pub, EventObjectAdded, logging.SeverityInfo, revision, actor, payload)
}

func ObjectRemoved(ctx context.Context, pub logging.Publisher, revision uint64, actor logging.EntityRef, payload MutationPayload) {
	publishMutation(ctx, pub, EventObjectRemoved, logging.SeverityInfo, revision, actor, payload)
}

func ObjectUpdated(ctx context.Context, pub logging.Publisher, revision uint64, actor logging.EntityRef, payload MutationPayload) {
	publishMutation(ctx, pub, EventObjectUpdated, logging.SeverityInfo, revision, actor, payload)
}

// UpdateMissed is published at debug severity; a miss is a valid no-op.
func UpdateMissed(ctx context.Context, pub logging.Publisher, revision uint64, actor logging.EntityRef, payload MutationPayload) {
	publishMutation(ctx, pub, EventUpdateMissed, logging.SeverityDebug, revision, actor, payload)
}

// SceneLoaded publishes the startup load result.
func SceneLoaded(ctx context.Context, pub logging.Publisher, payload LoadedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSceneLoaded,
		Actor:    logging.EntityRef{Kind: logging.EntityKindScene},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryScene,
		Payload:  payload,
	})
}

func publishMutation(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, revision uint64, actor logging.EntityRef, payload MutationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Revision: revision,
		Actor:    actor,
		Targets:  []logging.EntityRef{{ID: payload.ObjectID, Kind: logging.EntityKindObject}},
		Severity: severity,
		Category: logging.CategoryScene,
		Payload:  payload,
	})
}
