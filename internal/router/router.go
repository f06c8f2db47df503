// Package router is the protocol state machine between connected clients and
// the scene registry.
//
// Every event is handled inside one critical section: registry mutation,
// synchronous persistence and broadcast enqueue happen under a single lock,
// so two clients' edits are never interleaved. Socket I/O stays outside the
// lock; Client.Send only queues frames.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scenehub/server/internal/net/proto"
	"scenehub/server/internal/scene"
	"scenehub/server/internal/session"
	"scenehub/server/internal/telemetry"
	"scenehub/server/logging"
	"scenehub/server/logging/network"
	loggingscene "scenehub/server/logging/scene"
	"scenehub/server/logging/storage"
)

const tracerName = "scenehub/server/internal/router"

// Config wires a Router to its collaborators.
type Config struct {
	Registry *scene.Registry
	Sessions *session.Tracker

	// IncludeSender also delivers fan-out events back to the client that
	// caused them.
	IncludeSender bool

	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Tracer    trace.Tracer
}

// Router dispatches client events. It is safe for concurrent use.
type Router struct {
	mu      sync.Mutex
	clients map[string]Client

	registry      *scene.Registry
	sessions      *session.Tracker
	includeSender bool

	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	tracer    trace.Tracer
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.WrapMetrics(nil)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewTracker(session.Config{Logger: logger, Publisher: publisher, Metrics: metrics})
	}
	return &Router{
		clients:       make(map[string]Client),
		registry:      cfg.Registry,
		sessions:      sessions,
		includeSender: cfg.IncludeSender,
		logger:        logger,
		publisher:     publisher,
		metrics:       metrics,
		tracer:        tracer,
	}
}

// HandleFrame decodes one raw websocket frame from origin and dispatches it.
// Frames that cannot be decoded are rejected back to origin.
func (r *Router) HandleFrame(ctx context.Context, origin string, payload []byte) error {
	msg, err := proto.DecodeClientMessage(payload)
	if err != nil {
		r.rejectUndecodable(ctx, origin, msg, err)
		return err
	}
	decoded, err := DecodeMessage(msg)
	if err != nil {
		r.rejectUndecodable(ctx, origin, msg, err)
		return err
	}
	return r.Dispatch(ctx, origin, decoded)
}

// Dispatch applies one message from origin. Connect carries its own client;
// every other message must come from a registered client.
func (r *Router) Dispatch(ctx context.Context, origin string, msg Message) (err error) {
	ctx, span := r.tracer.Start(ctx, "router.dispatch", trace.WithAttributes(
		attribute.String("scenehub.event", msg.EventName()),
		attribute.String("scenehub.client", origin),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	r.metrics.Add(telemetry.MetricEventsTotal, 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case Connect:
		return r.connectLocked(ctx, m.Client)
	case Disconnect:
		return r.disconnectLocked(ctx, origin)
	}

	client, ok := r.clients[origin]
	if !ok {
		r.logger.Printf("ignoring %s from unregistered client %s", msg.EventName(), origin)
		network.ProtocolViolation(ctx, r.publisher, logging.ClientRef(origin), network.ViolationPayload{
			Event:  msg.EventName(),
			Detail: "event before connect",
		})
		return fmt.Errorf("%s from %s: %w", msg.EventName(), origin, ErrProtocolViolation)
	}

	switch m := msg.(type) {
	case SceneDataRequest:
		err = r.sceneDataLocked(ctx, client, m)
	case AddObject:
		err = r.addLocked(ctx, client, m)
	case RemoveObject:
		err = r.removeLocked(ctx, client, m)
	case UpdateObject:
		err = r.updateLocked(ctx, client, m)
	default:
		err = fmt.Errorf("%T: %w", msg, ErrUnknownEvent)
	}
	if err != nil {
		r.rejectLocked(ctx, client, msg.EventName(), seqOf(msg), err)
	}
	return err
}

// Clients reports the number of registered clients.
func (r *Router) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Router) connectLocked(ctx context.Context, client Client) error {
	if client == nil {
		return fmt.Errorf("connect without client: %w", ErrProtocolViolation)
	}
	id := client.ID()
	if _, exists := r.clients[id]; exists {
		network.ProtocolViolation(ctx, r.publisher, logging.ClientRef(id), network.ViolationPayload{
			Event:  proto.TypeConnect,
			Detail: "client already connected",
		})
		return fmt.Errorf("connect %s: %w", id, ErrProtocolViolation)
	}
	if _, err := r.sessions.OnConnect(ctx, id); err != nil {
		return err
	}
	r.clients[id] = client
	return nil
}

func (r *Router) disconnectLocked(ctx context.Context, origin string) error {
	if _, ok := r.clients[origin]; !ok {
		network.ProtocolViolation(ctx, r.publisher, logging.ClientRef(origin), network.ViolationPayload{
			Event:  proto.TypeDisconnect,
			Detail: "client not connected",
		})
		return fmt.Errorf("disconnect %s: %w", origin, ErrProtocolViolation)
	}
	delete(r.clients, origin)
	r.sessions.OnDisconnect(ctx, origin)
	return nil
}

func (r *Router) sceneDataLocked(ctx context.Context, client Client, m SceneDataRequest) error {
	frame, err := proto.EncodeEvent(proto.TypeSceneData, m.Seq, r.registry.Snapshot())
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	r.sendLocked(ctx, client, proto.TypeSceneData, frame)
	return nil
}

func (r *Router) addLocked(ctx context.Context, client Client, m AddObject) error {
	current, err := r.registry.Add(ctx, m.Object)
	if err != nil {
		return err
	}
	revision := r.registry.Revision()
	r.recordMutation(current)
	loggingscene.ObjectAdded(ctx, r.publisher, revision, logging.ClientRef(client.ID()), loggingscene.MutationPayload{
		ObjectID: m.Object.ID.String(),
		Objects:  current.Len(),
	})
	r.broadcastLocked(ctx, client.ID(), proto.TypeObjectAdded, m.Object)
	r.ackLocked(ctx, client, proto.CommandAck{Seq: m.Seq, Event: proto.TypeAddObject, Revision: revision})
	return nil
}

func (r *Router) removeLocked(ctx context.Context, client Client, m RemoveObject) error {
	current, err := r.registry.Remove(ctx, m.Object)
	if err != nil {
		return err
	}
	revision := r.registry.Revision()
	r.recordMutation(current)
	loggingscene.ObjectRemoved(ctx, r.publisher, revision, logging.ClientRef(client.ID()), loggingscene.MutationPayload{
		ObjectID: m.Object.ID.String(),
		Objects:  current.Len(),
	})
	r.broadcastLocked(ctx, client.ID(), proto.TypeObjectRemoved, m.Object)
	r.ackLocked(ctx, client, proto.CommandAck{Seq: m.Seq, Event: proto.TypeRemoveObject, Revision: revision})
	return nil
}

// updateLocked broadcasts object_updated on a match so other clients see the
// change. A miss stays a silent no-op for the scene; only the originator's
// ack reports matched=false.
func (r *Router) updateLocked(ctx context.Context, client Client, m UpdateObject) error {
	current, matched, err := r.registry.Update(ctx, m.Object)
	if err != nil {
		return err
	}
	revision := r.registry.Revision()
	payload := loggingscene.MutationPayload{ObjectID: m.Object.ID.String(), Objects: current.Len()}
	if matched {
		r.recordMutation(current)
		loggingscene.ObjectUpdated(ctx, r.publisher, revision, logging.ClientRef(client.ID()), payload)
		r.broadcastLocked(ctx, client.ID(), proto.TypeObjectUpdated, m.Object)
	} else {
		loggingscene.UpdateMissed(ctx, r.publisher, revision, logging.ClientRef(client.ID()), payload)
	}
	r.ackLocked(ctx, client, proto.CommandAck{Seq: m.Seq, Event: proto.TypeUpdateObject, Revision: revision, Matched: &matched})
	return nil
}

func (r *Router) recordMutation(current scene.Scene) {
	r.metrics.Add(telemetry.MetricMutationsTotal, 1)
	r.metrics.Store(telemetry.MetricSceneObjects, uint64(current.Len()))
}

func (r *Router) broadcastLocked(ctx context.Context, origin, eventType string, obj scene.Object) {
	frame, err := proto.EncodeEvent(eventType, 0, obj)
	if err != nil {
		r.logger.Printf("failed to encode %s broadcast: %v", eventType, err)
		return
	}
	for id, client := range r.clients {
		if id == origin && !r.includeSender {
			continue
		}
		r.sendLocked(ctx, client, eventType, frame)
	}
}

func (r *Router) ackLocked(ctx context.Context, client Client, ack proto.CommandAck) {
	if ack.Seq == 0 {
		return
	}
	frame, err := proto.EncodeCommandAck(ack)
	if err != nil {
		r.logger.Printf("failed to encode ack for %s: %v", client.ID(), err)
		return
	}
	r.sendLocked(ctx, client, proto.TypeCommandAck, frame)
}

func (r *Router) rejectLocked(ctx context.Context, client Client, event string, seq uint64, cause error) {
	reason := rejectReason(cause)
	r.metrics.Add(telemetry.MetricRejectsTotal, 1)

	var persistErr *scene.PersistenceError
	if errors.As(cause, &persistErr) {
		r.metrics.Add(telemetry.MetricPersistFailures, 1)
		storage.PersistFailed(ctx, r.publisher, r.registry.Revision(), logging.ClientRef(client.ID()), storage.PersistFailedPayload{
			Op:      persistErr.Op,
			Backend: r.registry.Backend(),
			Error:   persistErr.Err.Error(),
		})
	}
	network.CommandRejected(ctx, r.publisher, logging.ClientRef(client.ID()), seq, network.RejectPayload{
		Event:  event,
		Reason: reason,
		Error:  cause.Error(),
	})

	frame, err := proto.EncodeCommandReject(proto.CommandReject{
		Seq:     seq,
		Event:   event,
		Reason:  reason,
		Message: cause.Error(),
	})
	if err != nil {
		r.logger.Printf("failed to encode reject for %s: %v", client.ID(), err)
		return
	}
	r.sendLocked(ctx, client, proto.TypeCommandReject, frame)
}

func (r *Router) rejectUndecodable(ctx context.Context, origin string, msg proto.ClientMessage, cause error) {
	network.Malformed(ctx, r.publisher, logging.ClientRef(origin), msg.CommandSeq(), network.MalformedPayload{
		Event: msg.Type,
		Error: cause.Error(),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[origin]
	if !ok {
		network.ProtocolViolation(ctx, r.publisher, logging.ClientRef(origin), network.ViolationPayload{
			Event:  msg.Type,
			Detail: "event before connect",
		})
		return
	}
	r.rejectLocked(ctx, client, msg.Type, msg.CommandSeq(), cause)
}

func (r *Router) sendLocked(ctx context.Context, client Client, eventType string, frame []byte) {
	if client.Send(frame) {
		r.metrics.Add(telemetry.MetricBroadcastsTotal, 1)
		return
	}
	r.metrics.Add(telemetry.MetricBroadcastDropped, 1)
	network.BroadcastDropped(ctx, r.publisher, logging.ClientRef(client.ID()), network.DropPayload{Event: eventType})
}
