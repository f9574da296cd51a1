package websocket

import (
	"context"
	"io"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/midgardlabs/midgard/featureflag"
	"github.com/midgardlabs/midgard/models"
	"github.com/midgardlabs/midgard/spatial"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512

	// ErrTypeWorldNotJoined is returned by handlers that require a joined
	// world.
	ErrTypeWorldNotJoined = "world_not_joined"

	// ErrTypeMsgSkip indicates that a message was not handled. It does not
	// disconnect the client.
	ErrTypeMsgSkip = "msg_skip"
)

// ResponseSender sends messages to the connected client.
type ResponseSender interface {
	Send(msg any)
}

// RealtimeHandler manages a single client connection and relays its world
// changes in realtime.
type RealtimeHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains all the server worlds.
	Worlds *models.WorldStore

	FeatureFlags featureflag.FeatureFlag

	conn               *websocket.Conn
	currentWorld       *models.World
	currentParticipant *models.Participant
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentParticipant != nil {
		h.leaveWorld()
	}
}

// HandleMsg dispatches a message to its handler. Returning an error other
// than ErrTypeMsgSkip disconnects the client.
func (h *RealtimeHandler) HandleMsg(ctx context.Context, respond ResponseSender, msg Msg) error {
	switch msg.Type {
	case MsgTypePingRequest:
		return h.HandlePing(ctx, respond, msg)

	case MsgTypeWorldJoinRequest:
		return h.HandleWorldJoin(ctx, respond, msg)

	case MsgTypeObjectAddRequest:
		return h.HandleObjectAdd(ctx, respond, msg)

	case MsgTypeObjectDeleteRequest:
		return h.HandleObjectDelete(ctx, respond, msg)

	case MsgTypeObjectMove:
		return h.HandleObjectMove(ctx, msg)

	case MsgTypeRegionQueryRequest:
		return h.HandleRegionQuery(ctx, respond, msg)

	case MsgTypeIndexDumpRequest:
		return h.HandleIndexDump(ctx, respond, msg)

	default:
		return errors.New("message is not handled").
			WithType(ErrTypeMsgSkip).
			WithTag("msg_type", msg.Type)
	}
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req Request
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	respond.Send(Response{
		Type:      MsgTypePingResponse,
		RequestID: req.RequestID,
	})
	return nil
}

func (h *RealtimeHandler) HandleWorldJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req WorldJoinRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.currentWorld != nil && h.Worlds.GlobalWorldID(h.currentWorld.ID) == req.WorldID {
		respond.Send(ErrorResponse{
			Type:      MsgTypeErrorResponse,
			RequestID: req.RequestID,
			Code:      ErrorCodeWorldAlreadyJoined,
		})
		return nil
	}

	if h.currentParticipant != nil {
		h.leaveWorld()
	}

	world, ok := h.Worlds.GetByGlobalID(req.WorldID)
	if !ok && req.WorldID != "" {
		respond.Send(ErrorResponse{
			Type:      MsgTypeErrorResponse,
			RequestID: req.RequestID,
			Code:      ErrorCodeNotFound,
		})
		return nil
	}

	if !ok {
		world = h.Worlds.New()
	}

	participant := &models.Participant{
		ID:        world.NewParticipantID(),
		Responder: respond,
	}
	world.AddParticipant(participant)

	respond.Send(WorldJoinResponse{
		Type:          MsgTypeWorldJoinResponse,
		RequestID:     req.RequestID,
		WorldID:       h.Worlds.GlobalWorldID(world.ID),
		WorldUUID:     world.WorldUUID,
		ParticipantID: participant.ID,
	})

	h.currentWorld = world
	h.currentParticipant = participant

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableWorldState, func() {
		participants := world.GetParticipants()
		participantIDs := make([]uint32, len(participants))
		for i, p := range participants {
			participantIDs[i] = p.ID
		}

		respond.Send(WorldState{
			Type:         MsgTypeWorldState,
			Participants: participantIDs,
			Objects:      models.ObjectStates(world.Objects()),
		})
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableParticipantJoinBroadcast, func() {
		world.Broadcast(participant, ParticipantJoinBroadcast{
			Type:          MsgTypeParticipantJoinBroadcast,
			ParticipantID: participant.ID,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleObjectAdd(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ObjectAddRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	participant := h.currentParticipant
	world := h.currentWorld
	if participant == nil || world == nil {
		return errors.New("world not joined").
			WithType(ErrTypeWorldNotJoined).
			WithTag("msg_type", msg.Type)
	}

	object := &models.Object{
		ID:            world.NewObjectID(),
		ParticipantID: participant.ID,
		Persist:       req.Persist,
	}
	object.SetPose(req.Pose)
	object.SetBounds(req.Bounds)

	world.AddObject(object)
	participant.AddObject(object)

	respond.Send(ObjectAddResponse{
		Type:      MsgTypeObjectAddResponse,
		RequestID: req.RequestID,
		ObjectID:  object.ID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableObjectAddBroadcast, func() {
		world.Broadcast(participant, ObjectAddBroadcast{
			Type:   MsgTypeObjectAddBroadcast,
			Object: object.State(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleObjectDelete(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ObjectDeleteRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	participant := h.currentParticipant
	world := h.currentWorld
	if participant == nil || world == nil {
		return errors.New("world not joined").
			WithType(ErrTypeWorldNotJoined).
			WithTag("msg_type", msg.Type)
	}

	object, ok := world.ObjectByID(req.ObjectID)
	if !ok {
		respond.Send(ErrorResponse{
			Type:      MsgTypeErrorResponse,
			RequestID: req.RequestID,
			Code:      ErrorCodeNotFound,
		})
		return nil
	}

	if object.ParticipantID != participant.ID {
		respond.Send(ErrorResponse{
			Type:      MsgTypeErrorResponse,
			RequestID: req.RequestID,
			Code:      ErrorCodeUnauthorized,
		})
		return nil
	}

	if err := world.RemoveObject(object); err != nil {
		logs.WithTag("object_id", object.ID).Warn(err)
		respond.Send(ErrorResponse{
			Type:      MsgTypeErrorResponse,
			RequestID: req.RequestID,
			Code:      ErrorCodeInternalServerError,
		})
		return nil
	}
	participant.RemoveObject(object)

	respond.Send(ObjectDeleteResponse{
		Type:      MsgTypeObjectDeleteResponse,
		RequestID: req.RequestID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableObjectDeleteBroadcast, func() {
		world.Broadcast(participant, ObjectDeleteBroadcast{
			Type:     MsgTypeObjectDeleteBroadcast,
			ObjectID: req.ObjectID,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleObjectMove(ctx context.Context, msg Msg) error {
	var update ObjectMove
	if err := msg.DataTo(&update); err != nil {
		return err
	}

	participant := h.currentParticipant
	world := h.currentWorld
	if participant == nil || world == nil {
		return errors.New("world not joined").
			WithType(ErrTypeWorldNotJoined).
			WithTag("msg_type", msg.Type)
	}

	object, ok := world.ObjectByID(update.ObjectID)
	if !ok {
		return nil
	}
	if object.ParticipantID != participant.ID {
		return nil
	}

	if err := world.MoveObject(object, update.Pose); err != nil {
		logs.WithTag("object_id", object.ID).Warn(err)
		return nil
	}

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableObjectMoveBroadcast, func() {
		world.Broadcast(participant, ObjectMoveBroadcast{
			Type:     MsgTypeObjectMoveBroadcast,
			ObjectID: update.ObjectID,
			Pose:     update.Pose,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleRegionQuery(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req RegionQueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	world := h.currentWorld
	if world == nil {
		return errors.New("world not joined").
			WithType(ErrTypeWorldNotJoined).
			WithTag("msg_type", msg.Type)
	}

	objects := world.ObjectsInRegion(spatial.NewSquare(req.CX, req.CY, req.HalfSize))

	respond.Send(RegionQueryResponse{
		Type:      MsgTypeRegionQueryResponse,
		RequestID: req.RequestID,
		Objects:   models.ObjectStates(objects),
	})
	return nil
}

func (h *RealtimeHandler) HandleIndexDump(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req IndexDumpRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	world := h.currentWorld
	if world == nil {
		return errors.New("world not joined").
			WithType(ErrTypeWorldNotJoined).
			WithTag("msg_type", msg.Type)
	}

	sent := false
	h.FeatureFlags.IfSet(featureflag.FlagEnableIndexDump, func() {
		respond.Send(IndexDumpResponse{
			Type:      MsgTypeIndexDumpResponse,
			RequestID: req.RequestID,
			Dump:      world.DumpIndex(),
		})
		sent = true
	})

	if !sent {
		respond.Send(ErrorResponse{
			Type:      MsgTypeErrorResponse,
			RequestID: req.RequestID,
			Code:      ErrorCodeUnauthorized,
		})
	}
	return nil
}

// CurrentWorld returns the currently joined world.
func (h *RealtimeHandler) CurrentWorld() *models.World {
	return h.currentWorld
}

// CurrentParticipant returns the current participant.
func (h *RealtimeHandler) CurrentParticipant() *models.Participant {
	return h.currentParticipant
}

// leaveWorld removes the participant's non-persistent objects, then the
// participant, then the world itself when nobody is left in it.
func (h *RealtimeHandler) leaveWorld() {
	world := h.currentWorld
	participant := h.currentParticipant

	for id := range participant.ObjectIDs() {
		object, ok := world.ObjectByID(id)
		if !ok || object.Persist {
			continue
		}

		if err := world.RemoveObject(object); err != nil {
			logs.WithTag("object_id", id).Warn(err)
			continue
		}

		h.FeatureFlags.IfNotSet(featureflag.FlagDisableObjectDeleteBroadcast, func() {
			world.Broadcast(participant, ObjectDeleteBroadcast{
				Type:     MsgTypeObjectDeleteBroadcast,
				ObjectID: id,
			})
		})
	}

	world.RemoveParticipant(participant)
	if world.ParticipantCount() == 0 {
		h.Worlds.Remove(world)
	}

	h.currentWorld = nil
	h.currentParticipant = nil
}

type responder struct {
	sendChan chan any
}

func (r *responder) Send(msg any) {
	select {
	case r.sendChan <- msg:
	default:
		logs.WithTag("msg_type", msgTypeOf(msg)).
			Warn("send queue is full, dropping message")
	}
}

// Handle runs the receive loop for conn, dispatching messages to h until
// ctx is canceled or the client disconnects.
func Handle(ctx context.Context, conn *websocket.Conn, h *RealtimeHandler) {
	h.HandleConnect(conn)

	instrumentClientConnected()
	defer instrumentClientDisconnected()

	logs.WithTag("remote_addr", conn.Request().RemoteAddr).
		Info("client connected")

	respond := &responder{
		sendChan: make(chan any, sendChanSize),
	}

	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()

	go func() {
		for {
			select {
			case <-sendCtx.Done():
				return

			case msg := <-respond.sendChan:
				data, err := json.Marshal(msg)
				if err != nil {
					logs.WithTag("msg_type", msgTypeOf(msg)).Warn(err)
					continue
				}
				if err := websocket.Message.Send(conn, string(data)); err != nil {
					instrumentSendError(err)
					return
				}
				instrumentMsgSent(msg, len(data))
			}
		}
	}()

	for {
		if h.ClientIdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(h.ClientIdleTimeout))
		}

		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if err != io.EOF {
				logs.WithTag("remote_addr", conn.Request().RemoteAddr).Debug(err)
			}
			h.HandleDisconnect(err)
			return
		}

		msg, err := MsgFromBytes(raw)
		if err != nil {
			instrumentReceiveError(err)
			logs.Debug(err)
			continue
		}
		instrumentMsgReceived(msg.Type, len(raw))

		start := time.Now()
		err = h.HandleMsg(ctx, respond, msg)
		instrumentMsgLatency(msg.Type, time.Since(start))

		if err != nil {
			if errors.IsType(err, ErrTypeMsgSkip) {
				logs.Debug(err)
				continue
			}

			instrumentReceiveError(err)
			logs.WithTag("msg_type", msg.Type).Error(err)
			h.HandleDisconnect(err)
			return
		}
	}
}
