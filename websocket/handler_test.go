package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/midgardlabs/midgard/featureflag"
	"github.com/midgardlabs/midgard/models"
	"github.com/midgardlabs/midgard/spatial"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

type testResponder struct {
	msgs []any
}

func (r *testResponder) Send(msg any) {
	r.msgs = append(r.msgs, msg)
}

func (r *testResponder) last(t *testing.T) any {
	t.Helper()
	require.NotEmpty(t, r.msgs)
	return r.msgs[len(r.msgs)-1]
}

func newTestMsg(t *testing.T, v any) Msg {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	msg, err := MsgFromBytes(data)
	require.NoError(t, err)
	return msg
}

func newTestWorldStore() *models.WorldStore {
	return &models.WorldStore{
		Region:        spatial.NewSquare(0, 0, 256),
		NodeFullLimit: 4,
	}
}

func newTestHandler(worlds *models.WorldStore) *RealtimeHandler {
	return &RealtimeHandler{
		ClientIdleTimeout: time.Minute,
		Worlds:            worlds,
	}
}

func joinWorld(t *testing.T, h *RealtimeHandler, respond *testResponder, worldID string) WorldJoinResponse {
	t.Helper()

	err := h.HandleWorldJoin(context.Background(), respond, newTestMsg(t, WorldJoinRequest{
		Type:    MsgTypeWorldJoinRequest,
		WorldID: worldID,
	}))
	require.NoError(t, err)

	res, ok := respond.msgs[len(respond.msgs)-1].(WorldJoinResponse)
	if !ok {
		// The world state follows the join response when the flag is not
		// set, so scan backward for the join response of this call rather
		// than a stale one from an earlier join on the same responder.
		for i := len(respond.msgs) - 1; i >= 0; i-- {
			if r, isJoin := respond.msgs[i].(WorldJoinResponse); isJoin {
				return r
			}
		}
		require.Fail(t, "no world join response sent")
	}
	return res
}

func TestHandlePing(t *testing.T) {
	h := newTestHandler(newTestWorldStore())
	respond := &testResponder{}

	err := h.HandlePing(context.Background(), respond, newTestMsg(t, Request{
		Type:      MsgTypePingRequest,
		RequestID: 42,
	}))
	require.NoError(t, err)

	res := respond.last(t).(Response)
	require.Equal(t, MsgTypePingResponse, res.Type)
	require.Equal(t, uint32(42), res.RequestID)
}

func TestHandleMsgNotHandled(t *testing.T) {
	h := newTestHandler(newTestWorldStore())

	err := h.HandleMsg(context.Background(), &testResponder{}, Msg{Type: "banana"})
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeMsgSkip))
}

func TestHandleWorldJoin(t *testing.T) {
	t.Run("joining without a world id creates a world", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}

		res := joinWorld(t, h, respond, "")
		require.NotEmpty(t, res.WorldID)
		require.NotZero(t, res.ParticipantID)
		require.NotNil(t, h.CurrentWorld())
		require.NotNil(t, h.CurrentParticipant())
	})

	t.Run("joining sends the world state", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}

		joinWorld(t, h, respond, "")

		var stateSent bool
		for _, msg := range respond.msgs {
			if state, ok := msg.(WorldState); ok {
				stateSent = true
				require.Len(t, state.Participants, 1)
				require.Empty(t, state.Objects)
			}
		}
		require.True(t, stateSent)
	})

	t.Run("joining an unknown world id returns a not found error", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}

		err := h.HandleWorldJoin(context.Background(), respond, newTestMsg(t, WorldJoinRequest{
			Type:    MsgTypeWorldJoinRequest,
			WorldID: "midgardxdeadbeef",
		}))
		require.NoError(t, err)

		res := respond.last(t).(ErrorResponse)
		require.Equal(t, ErrorCodeNotFound, res.Code)
		require.Nil(t, h.CurrentWorld())
	})

	t.Run("joining an already joined world returns an error", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}

		res := joinWorld(t, h, respond, "")

		err := h.HandleWorldJoin(context.Background(), respond, newTestMsg(t, WorldJoinRequest{
			Type:    MsgTypeWorldJoinRequest,
			WorldID: res.WorldID,
		}))
		require.NoError(t, err)

		errRes := respond.last(t).(ErrorResponse)
		require.Equal(t, ErrorCodeWorldAlreadyJoined, errRes.Code)
	})

	t.Run("joining another world leaves the current one", func(t *testing.T) {
		worlds := newTestWorldStore()
		h := newTestHandler(worlds)
		respond := &testResponder{}

		first := joinWorld(t, h, respond, "")
		firstWorld := h.CurrentWorld()

		second := joinWorld(t, h, respond, "")
		require.NotEqual(t, first.WorldUUID, second.WorldUUID)
		require.Zero(t, firstWorld.ParticipantCount())

		// the vacated world id is reused, so the first global id now points
		// at the new world, not the abandoned one:
		got, ok := worlds.GetByGlobalID(first.WorldID)
		require.True(t, ok)
		require.NotSame(t, firstWorld, got)
	})

	t.Run("joining a world notifies the other participants", func(t *testing.T) {
		worlds := newTestWorldStore()

		h1 := newTestHandler(worlds)
		respond1 := &testResponder{}
		res := joinWorld(t, h1, respond1, "")

		h2 := newTestHandler(worlds)
		respond2 := &testResponder{}
		joinWorld(t, h2, respond2, res.WorldID)

		var notified bool
		for _, msg := range respond1.msgs {
			if b, ok := msg.(ParticipantJoinBroadcast); ok {
				notified = true
				require.Equal(t, h2.CurrentParticipant().ID, b.ParticipantID)
			}
		}
		require.True(t, notified)
	})
}

func TestHandleObjectAdd(t *testing.T) {
	t.Run("adding an object without a world returns an error", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())

		err := h.HandleObjectAdd(context.Background(), &testResponder{}, newTestMsg(t, ObjectAddRequest{
			Type: MsgTypeObjectAddRequest,
		}))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeWorldNotJoined))
	})

	t.Run("adding an object succeeds", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}
		joinWorld(t, h, respond, "")

		err := h.HandleObjectAdd(context.Background(), respond, newTestMsg(t, ObjectAddRequest{
			Type:      MsgTypeObjectAddRequest,
			RequestID: 7,
			Pose:      models.Pose{PX: 10, PY: 20, PZ: 1},
			Bounds:    spatial.Sphere{Radius: 2},
		}))
		require.NoError(t, err)

		res := respond.last(t).(ObjectAddResponse)
		require.Equal(t, uint32(7), res.RequestID)
		require.NotZero(t, res.ObjectID)
		require.Equal(t, 1, h.CurrentWorld().ObjectCount())
	})

	t.Run("adding an object notifies the other participants", func(t *testing.T) {
		worlds := newTestWorldStore()

		h1 := newTestHandler(worlds)
		respond1 := &testResponder{}
		res := joinWorld(t, h1, respond1, "")

		h2 := newTestHandler(worlds)
		respond2 := &testResponder{}
		joinWorld(t, h2, respond2, res.WorldID)

		err := h2.HandleObjectAdd(context.Background(), respond2, newTestMsg(t, ObjectAddRequest{
			Type: MsgTypeObjectAddRequest,
			Pose: models.Pose{PX: 1, PY: 1},
		}))
		require.NoError(t, err)

		var notified bool
		for _, msg := range respond1.msgs {
			if b, ok := msg.(ObjectAddBroadcast); ok {
				notified = true
				require.Equal(t, h2.CurrentParticipant().ID, b.Object.ParticipantID)
			}
		}
		require.True(t, notified)
	})
}

func TestHandleObjectDelete(t *testing.T) {
	t.Run("deleting an unknown object returns a not found error", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}
		joinWorld(t, h, respond, "")

		err := h.HandleObjectDelete(context.Background(), respond, newTestMsg(t, ObjectDeleteRequest{
			Type:     MsgTypeObjectDeleteRequest,
			ObjectID: 999,
		}))
		require.NoError(t, err)

		res := respond.last(t).(ErrorResponse)
		require.Equal(t, ErrorCodeNotFound, res.Code)
	})

	t.Run("deleting another participant's object is unauthorized", func(t *testing.T) {
		worlds := newTestWorldStore()

		h1 := newTestHandler(worlds)
		respond1 := &testResponder{}
		res := joinWorld(t, h1, respond1, "")

		err := h1.HandleObjectAdd(context.Background(), respond1, newTestMsg(t, ObjectAddRequest{
			Type: MsgTypeObjectAddRequest,
		}))
		require.NoError(t, err)
		addRes := respond1.last(t).(ObjectAddResponse)

		h2 := newTestHandler(worlds)
		respond2 := &testResponder{}
		joinWorld(t, h2, respond2, res.WorldID)

		err = h2.HandleObjectDelete(context.Background(), respond2, newTestMsg(t, ObjectDeleteRequest{
			Type:     MsgTypeObjectDeleteRequest,
			ObjectID: addRes.ObjectID,
		}))
		require.NoError(t, err)

		errRes := respond2.last(t).(ErrorResponse)
		require.Equal(t, ErrorCodeUnauthorized, errRes.Code)
	})

	t.Run("deleting an owned object succeeds", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}
		joinWorld(t, h, respond, "")

		err := h.HandleObjectAdd(context.Background(), respond, newTestMsg(t, ObjectAddRequest{
			Type: MsgTypeObjectAddRequest,
		}))
		require.NoError(t, err)
		addRes := respond.last(t).(ObjectAddResponse)

		err = h.HandleObjectDelete(context.Background(), respond, newTestMsg(t, ObjectDeleteRequest{
			Type:      MsgTypeObjectDeleteRequest,
			RequestID: 3,
			ObjectID:  addRes.ObjectID,
		}))
		require.NoError(t, err)

		res := respond.last(t).(ObjectDeleteResponse)
		require.Equal(t, uint32(3), res.RequestID)
		require.Zero(t, h.CurrentWorld().ObjectCount())
	})
}

func TestHandleObjectMove(t *testing.T) {
	h := newTestHandler(newTestWorldStore())
	respond := &testResponder{}
	joinWorld(t, h, respond, "")

	err := h.HandleObjectAdd(context.Background(), respond, newTestMsg(t, ObjectAddRequest{
		Type: MsgTypeObjectAddRequest,
		Pose: models.Pose{PX: 10, PY: 10},
	}))
	require.NoError(t, err)
	addRes := respond.last(t).(ObjectAddResponse)

	err = h.HandleObjectMove(context.Background(), newTestMsg(t, ObjectMove{
		Type:     MsgTypeObjectMove,
		ObjectID: addRes.ObjectID,
		Pose:     models.Pose{PX: -100, PY: -100},
	}))
	require.NoError(t, err)

	object, ok := h.CurrentWorld().ObjectByID(addRes.ObjectID)
	require.True(t, ok)
	require.Equal(t, float32(-100), object.Pose().PX)

	objects := h.CurrentWorld().ObjectsInRegion(spatial.NewSquare(-100, -100, 1))
	require.Len(t, objects, 1)
}

func TestHandleRegionQuery(t *testing.T) {
	h := newTestHandler(newTestWorldStore())
	respond := &testResponder{}
	joinWorld(t, h, respond, "")

	err := h.HandleObjectAdd(context.Background(), respond, newTestMsg(t, ObjectAddRequest{
		Type:   MsgTypeObjectAddRequest,
		Pose:   models.Pose{PX: 50, PY: 50},
		Bounds: spatial.Sphere{Radius: 1},
	}))
	require.NoError(t, err)
	addRes := respond.last(t).(ObjectAddResponse)

	err = h.HandleRegionQuery(context.Background(), respond, newTestMsg(t, RegionQueryRequest{
		Type:     MsgTypeRegionQueryRequest,
		CX:       50,
		CY:       50,
		HalfSize: 4,
	}))
	require.NoError(t, err)

	res := respond.last(t).(RegionQueryResponse)
	require.Len(t, res.Objects, 1)
	require.Equal(t, addRes.ObjectID, res.Objects[0].ID)

	err = h.HandleRegionQuery(context.Background(), respond, newTestMsg(t, RegionQueryRequest{
		Type:     MsgTypeRegionQueryRequest,
		CX:       -50,
		CY:       -50,
		HalfSize: 4,
	}))
	require.NoError(t, err)

	res = respond.last(t).(RegionQueryResponse)
	require.Empty(t, res.Objects)
}

func TestHandleIndexDump(t *testing.T) {
	t.Run("dumping is unauthorized when the flag is not set", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		respond := &testResponder{}
		joinWorld(t, h, respond, "")

		err := h.HandleIndexDump(context.Background(), respond, newTestMsg(t, IndexDumpRequest{
			Type: MsgTypeIndexDumpRequest,
		}))
		require.NoError(t, err)

		res := respond.last(t).(ErrorResponse)
		require.Equal(t, ErrorCodeUnauthorized, res.Code)
	})

	t.Run("dumping succeeds when the flag is set", func(t *testing.T) {
		h := newTestHandler(newTestWorldStore())
		h.FeatureFlags = featureflag.New([]string{string(featureflag.FlagEnableIndexDump)})
		respond := &testResponder{}
		joinWorld(t, h, respond, "")

		err := h.HandleIndexDump(context.Background(), respond, newTestMsg(t, IndexDumpRequest{
			Type: MsgTypeIndexDumpRequest,
		}))
		require.NoError(t, err)

		res := respond.last(t).(IndexDumpResponse)
		require.Contains(t, res.Dump, "index objects=")
	})
}

func TestHandleDisconnect(t *testing.T) {
	t.Run("disconnecting removes the non persistent objects", func(t *testing.T) {
		worlds := newTestWorldStore()

		h1 := newTestHandler(worlds)
		respond1 := &testResponder{}
		res := joinWorld(t, h1, respond1, "")

		h2 := newTestHandler(worlds)
		respond2 := &testResponder{}
		joinWorld(t, h2, respond2, res.WorldID)

		err := h1.HandleObjectAdd(context.Background(), respond1, newTestMsg(t, ObjectAddRequest{
			Type: MsgTypeObjectAddRequest,
		}))
		require.NoError(t, err)

		err = h1.HandleObjectAdd(context.Background(), respond1, newTestMsg(t, ObjectAddRequest{
			Type:    MsgTypeObjectAddRequest,
			Persist: true,
		}))
		require.NoError(t, err)

		world := h1.CurrentWorld()
		require.Equal(t, 2, world.ObjectCount())

		h1.HandleDisconnect(nil)
		require.Equal(t, 1, world.ObjectCount())
		require.Equal(t, 1, world.ParticipantCount())
		require.Nil(t, h1.CurrentWorld())
	})

	t.Run("disconnecting the last participant removes the world", func(t *testing.T) {
		worlds := newTestWorldStore()
		h := newTestHandler(worlds)
		respond := &testResponder{}

		res := joinWorld(t, h, respond, "")
		h.HandleDisconnect(nil)

		_, ok := worlds.GetByGlobalID(res.WorldID)
		require.False(t, ok)
	})
}

func TestMsgTypeOf(t *testing.T) {
	require.Equal(t, string(MsgTypePingResponse), msgTypeOf(Response{Type: MsgTypePingResponse}))
	require.Equal(t, string(MsgTypePingResponse), msgTypeOf(&Response{Type: MsgTypePingResponse}))
	require.Equal(t, "unknown", msgTypeOf(42))
}
