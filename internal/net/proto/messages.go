package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
)

// Client event names. Connect and disconnect are synthesised by the
// transport; clients never send them.
const (
	TypeConnect      = "connect"
	TypeDisconnect   = "disconnect"
	TypeSceneData    = "scene_data"
	TypeAddObject    = "add_object"
	TypeRemoveObject = "remove_object"
	TypeUpdateObject = "update_object"
)

// Server event names.
const (
	TypeObjectAdded   = "object_added"
	TypeObjectRemoved = "object_removed"
	TypeObjectUpdated = "object_updated"
	TypeCommandAck    = typeCommandAck
	TypeCommandReject = typeCommandReject
)

// Reject reasons carried by commandReject frames.
const (
	ReasonMalformedPayload   = "malformed_payload"
	ReasonNotFound           = "not_found"
	ReasonPersistenceFailure = "persistence_failure"
	ReasonProtocolViolation  = "protocol_violation"
	ReasonUnknownEvent       = "unknown_event"
)

// ErrMalformedMessage is returned for frames that are not a decodable envelope.
var ErrMalformedMessage = errors.New("malformed message")

// ClientMessage is an inbound websocket envelope. Data is kept raw so the
// router can validate it against the event type.
type ClientMessage struct {
	Ver  int             `json:"ver,omitempty"`
	Type string          `json:"type"`
	Seq  *uint64         `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandSeq returns the client's sequence number, zero when absent.
func (m ClientMessage) CommandSeq() uint64 {
	if m.Seq == nil {
		return 0
	}
	return *m.Seq
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("%w: unsupported client protocol version %d", ErrMalformedMessage, msg.Ver)
	}
	return msg, nil
}

// ServerMessage is an outbound event frame: broadcasts and replies.
type ServerMessage struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
	Data any    `json:"data,omitempty"`
}

// EncodeEvent renders a server event carrying data. Replies pass the
// request's seq; broadcasts pass zero.
func EncodeEvent(eventType string, seq uint64, data any) ([]byte, error) {
	return json.Marshal(ServerMessage{Ver: Version, Type: eventType, Seq: seq, Data: data})
}

// CommandAck acknowledges a processed event. Revision is the scene revision
// after the event was applied; Matched is set for update_object only.
type CommandAck struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	Seq      uint64 `json:"seq"`
	Event    string `json:"event"`
	Revision uint64 `json:"revision,omitempty"`
	Matched  *bool  `json:"matched,omitempty"`
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeCommandAck
	return json.Marshal(msg)
}

// CommandReject notifies the originator that an event was refused.
type CommandReject struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Event   string `json:"event,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeCommandReject
	return json.Marshal(msg)
}
