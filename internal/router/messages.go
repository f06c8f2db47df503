package router

import (
	"errors"
	"fmt"

	"scenehub/server/internal/net/proto"
	"scenehub/server/internal/scene"
)

var (
	// ErrProtocolViolation marks events that arrive out of sequence, such as
	// a mutation from a client that never connected.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrUnknownEvent marks an inbound event name with no handler.
	ErrUnknownEvent = errors.New("unknown event")
)

// Client is one connected peer as seen by the router.
type Client interface {
	ID() string
	// Send queues frame for delivery without blocking. It reports false when
	// the frame was dropped.
	Send(frame []byte) bool
}

// Message is the closed set of events the router dispatches.
type Message interface {
	EventName() string
}

// Connect registers a client. Produced by the transport on upgrade.
type Connect struct {
	Client Client
}

// Disconnect unregisters the originating client. Produced by the transport.
type Disconnect struct{}

// SceneDataRequest asks for the full scene; the payload is ignored.
type SceneDataRequest struct {
	Seq uint64
}

// AddObject appends Object to the scene.
type AddObject struct {
	Seq    uint64
	Object scene.Object
}

// RemoveObject removes the first entry structurally equal to Object.
type RemoveObject struct {
	Seq    uint64
	Object scene.Object
}

// UpdateObject replaces the first entry with Object's id.
type UpdateObject struct {
	Seq    uint64
	Object scene.Object
}

func (Connect) EventName() string          { return proto.TypeConnect }
func (Disconnect) EventName() string       { return proto.TypeDisconnect }
func (SceneDataRequest) EventName() string { return proto.TypeSceneData }
func (AddObject) EventName() string        { return proto.TypeAddObject }
func (RemoveObject) EventName() string     { return proto.TypeRemoveObject }
func (UpdateObject) EventName() string     { return proto.TypeUpdateObject }

// DecodeMessage maps a client envelope onto its message variant, validating
// object payloads. Connect and disconnect are transport events and are
// refused when a client sends them.
func DecodeMessage(msg proto.ClientMessage) (Message, error) {
	seq := msg.CommandSeq()
	switch msg.Type {
	case proto.TypeSceneData:
		return SceneDataRequest{Seq: seq}, nil
	case proto.TypeAddObject, proto.TypeRemoveObject, proto.TypeUpdateObject:
		if len(msg.Data) == 0 {
			return nil, fmt.Errorf("%s: %w: missing data", msg.Type, scene.ErrMalformedObject)
		}
		obj, err := scene.ParseObject(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", msg.Type, err)
		}
		switch msg.Type {
		case proto.TypeAddObject:
			return AddObject{Seq: seq, Object: obj}, nil
		case proto.TypeRemoveObject:
			return RemoveObject{Seq: seq, Object: obj}, nil
		default:
			return UpdateObject{Seq: seq, Object: obj}, nil
		}
	case proto.TypeConnect, proto.TypeDisconnect:
		return nil, fmt.Errorf("%s is sent by the transport: %w", msg.Type, ErrProtocolViolation)
	default:
		return nil, fmt.Errorf("%q: %w", msg.Type, ErrUnknownEvent)
	}
}

func seqOf(msg Message) uint64 {
	switch m := msg.(type) {
	case SceneDataRequest:
		return m.Seq
	case AddObject:
		return m.Seq
	case RemoveObject:
		return m.Seq
	case UpdateObject:
		return m.Seq
	default:
		return 0
	}
}

func rejectReason(err error) string {
	var persistErr *scene.PersistenceError
	switch {
	case errors.Is(err, scene.ErrMalformedObject), errors.Is(err, proto.ErrMalformedMessage):
		return proto.ReasonMalformedPayload
	case errors.Is(err, scene.ErrNotFound):
		return proto.ReasonNotFound
	case errors.As(err, &persistErr):
		return proto.ReasonPersistenceFailure
	case errors.Is(err, ErrUnknownEvent):
		return proto.ReasonUnknownEvent
	default:
		return proto.ReasonProtocolViolation
	}
}
