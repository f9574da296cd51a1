package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/midgardlabs/midgard/models"
	"github.com/midgardlabs/midgard/spatial"
	"github.com/segmentio/encoding/json"
)

// MsgType identifies a message exchanged over a connection.
type MsgType string

const (
	MsgTypeErrorResponse            MsgType = "error_response"
	MsgTypePingRequest              MsgType = "ping_request"
	MsgTypePingResponse             MsgType = "ping_response"
	MsgTypeWorldJoinRequest         MsgType = "world_join_request"
	MsgTypeWorldJoinResponse        MsgType = "world_join_response"
	MsgTypeWorldState               MsgType = "world_state"
	MsgTypeParticipantJoinBroadcast MsgType = "participant_join_broadcast"
	MsgTypeObjectAddRequest         MsgType = "object_add_request"
	MsgTypeObjectAddResponse        MsgType = "object_add_response"
	MsgTypeObjectAddBroadcast       MsgType = "object_add_broadcast"
	MsgTypeObjectDeleteRequest      MsgType = "object_delete_request"
	MsgTypeObjectDeleteResponse     MsgType = "object_delete_response"
	MsgTypeObjectDeleteBroadcast    MsgType = "object_delete_broadcast"
	MsgTypeObjectMove               MsgType = "object_move"
	MsgTypeObjectMoveBroadcast      MsgType = "object_move_broadcast"
	MsgTypeRegionQueryRequest       MsgType = "region_query_request"
	MsgTypeRegionQueryResponse      MsgType = "region_query_response"
	MsgTypeIndexDumpRequest         MsgType = "index_dump_request"
	MsgTypeIndexDumpResponse        MsgType = "index_dump_response"
)

// ErrorCode qualifies an error response.
type ErrorCode string

const (
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeUnauthorized        ErrorCode = "unauthorized"
	ErrorCodeWorldAlreadyJoined  ErrorCode = "world_already_joined"
	ErrorCodeInternalServerError ErrorCode = "internal_server_error"
)

// Msg is a received message: its type plus the raw payload, decoded on
// demand with DataTo.
type Msg struct {
	Type MsgType

	raw []byte
}

// MsgFromBytes peeks at the type of a raw JSON message.
func MsgFromBytes(raw []byte) (Msg, error) {
	var head struct {
		Type MsgType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Msg{}, errors.New("decoding message failed").Wrap(err)
	}
	return Msg{Type: head.Type, raw: raw}, nil
}

// DataTo decodes the message payload into v.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.raw, v); err != nil {
		return errors.New("decoding message payload failed").
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

type Request struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
}

type Response struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
}

type ErrorResponse struct {
	Type      MsgType   `json:"type"`
	RequestID uint32    `json:"request_id"`
	Code      ErrorCode `json:"code"`
}

type WorldJoinRequest struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`

	// The global id of the world to join. Empty to create a new world.
	WorldID string `json:"world_id"`
}

type WorldJoinResponse struct {
	Type          MsgType `json:"type"`
	RequestID     uint32  `json:"request_id"`
	WorldID       string  `json:"world_id"`
	WorldUUID     string  `json:"world_uuid"`
	ParticipantID uint32  `json:"participant_id"`
}

type WorldState struct {
	Type         MsgType              `json:"type"`
	Participants []uint32             `json:"participants"`
	Objects      []models.ObjectState `json:"objects"`
}

type ParticipantJoinBroadcast struct {
	Type          MsgType `json:"type"`
	ParticipantID uint32  `json:"participant_id"`
}

type ObjectAddRequest struct {
	Type      MsgType        `json:"type"`
	RequestID uint32         `json:"request_id"`
	Pose      models.Pose    `json:"pose"`
	Bounds    spatial.Sphere `json:"bounds"`
	Persist   bool           `json:"persist"`
}

type ObjectAddResponse struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
	ObjectID  uint32  `json:"object_id"`
}

type ObjectAddBroadcast struct {
	Type   MsgType            `json:"type"`
	Object models.ObjectState `json:"object"`
}

type ObjectDeleteRequest struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
	ObjectID  uint32  `json:"object_id"`
}

type ObjectDeleteResponse struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
}

type ObjectDeleteBroadcast struct {
	Type     MsgType `json:"type"`
	ObjectID uint32  `json:"object_id"`
}

// ObjectMove carries a pose update. It is fire-and-forget: the server does
// not respond, it only relays.
type ObjectMove struct {
	Type     MsgType     `json:"type"`
	ObjectID uint32      `json:"object_id"`
	Pose     models.Pose `json:"pose"`
}

type ObjectMoveBroadcast struct {
	Type     MsgType     `json:"type"`
	ObjectID uint32      `json:"object_id"`
	Pose     models.Pose `json:"pose"`
}

type RegionQueryRequest struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
	CX        float32 `json:"cx"`
	CY        float32 `json:"cy"`
	HalfSize  float32 `json:"half_size"`
}

type RegionQueryResponse struct {
	Type      MsgType              `json:"type"`
	RequestID uint32               `json:"request_id"`
	Objects   []models.ObjectState `json:"objects"`
}

type IndexDumpRequest struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
}

type IndexDumpResponse struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id"`
	Dump      string  `json:"dump"`
}
