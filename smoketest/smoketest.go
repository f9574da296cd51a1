// Package smoketest runs a scripted client session against a running server
// to verify the realtime endpoint end to end.
package smoketest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/midgardlabs/midgard/models"
	mwebsocket "github.com/midgardlabs/midgard/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const recvDeadline = time.Second * 5

type Options struct {
	// The endpoint where the realtime server is reachable, http or ws
	// scheme.
	Endpoint string

	// The bearer token used to authenticate. Empty when the server does not
	// require one.
	AuthSecret string

	Timeout time.Duration
}

type Results struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
	WorldID  string `json:"world_id,omitempty"`
	ObjectID uint32 `json:"object_id,omitempty"`
}

// Run joins a world, adds an object, queries it back and deletes it, then
// reports how it went.
func Run(ctx context.Context, opts Options) Results {
	start := time.Now()

	res, err := run(ctx, opts)
	res.Duration = time.Since(start).String()
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.OK = true
	return res
}

func run(ctx context.Context, opts Options) (Results, error) {
	var res Results

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 15
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(opts)
	if err != nil {
		return res, errors.New("connecting to the server failed").Wrap(err)
	}
	defer conn.Close()

	c := client{conn: conn}

	if err := c.send(mwebsocket.WorldJoinRequest{
		Type:      mwebsocket.MsgTypeWorldJoinRequest,
		RequestID: 1,
	}); err != nil {
		return res, err
	}

	var join mwebsocket.WorldJoinResponse
	if err := c.recvType(ctx, mwebsocket.MsgTypeWorldJoinResponse, &join); err != nil {
		return res, errors.New("joining a world failed").Wrap(err)
	}
	res.WorldID = join.WorldID

	if err := c.send(mwebsocket.ObjectAddRequest{
		Type:      mwebsocket.MsgTypeObjectAddRequest,
		RequestID: 2,
		Pose:      models.Pose{PX: 1, PY: 2, PZ: 3},
	}); err != nil {
		return res, err
	}

	var add mwebsocket.ObjectAddResponse
	if err := c.recvType(ctx, mwebsocket.MsgTypeObjectAddResponse, &add); err != nil {
		return res, errors.New("adding an object failed").Wrap(err)
	}
	res.ObjectID = add.ObjectID

	if err := c.send(mwebsocket.RegionQueryRequest{
		Type:      mwebsocket.MsgTypeRegionQueryRequest,
		RequestID: 3,
		CX:        1,
		CY:        2,
		HalfSize:  4,
	}); err != nil {
		return res, err
	}

	var query mwebsocket.RegionQueryResponse
	if err := c.recvType(ctx, mwebsocket.MsgTypeRegionQueryResponse, &query); err != nil {
		return res, errors.New("querying a region failed").Wrap(err)
	}
	var found bool
	for _, o := range query.Objects {
		if o.ID == add.ObjectID {
			found = true
		}
	}
	if !found {
		return res, errors.New("the added object is missing from the region query").
			WithTag("object_id", add.ObjectID)
	}

	if err := c.send(mwebsocket.ObjectDeleteRequest{
		Type:      mwebsocket.MsgTypeObjectDeleteRequest,
		RequestID: 4,
		ObjectID:  add.ObjectID,
	}); err != nil {
		return res, err
	}

	var del mwebsocket.ObjectDeleteResponse
	if err := c.recvType(ctx, mwebsocket.MsgTypeObjectDeleteResponse, &del); err != nil {
		return res, errors.New("deleting the object failed").Wrap(err)
	}

	return res, nil
}

func dial(opts Options) (*websocket.Conn, error) {
	endpoint := opts.Endpoint
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)

	conf, err := websocket.NewConfig(endpoint, "http://localhost")
	if err != nil {
		return nil, err
	}
	if opts.AuthSecret != "" {
		conf.Header = http.Header{
			"Authorization": []string{"Bearer " + opts.AuthSecret},
		}
	}
	return websocket.DialConfig(conf)
}

type client struct {
	conn *websocket.Conn
}

func (c client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.New("encoding message failed").Wrap(err)
	}
	return websocket.Message.Send(c.conn, string(data))
}

// recvType reads messages until one of the wanted type shows up, skipping
// world states and broadcasts.
func (c client) recvType(ctx context.Context, msgType mwebsocket.MsgType, v any) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(recvDeadline))

		var raw []byte
		if err := websocket.Message.Receive(c.conn, &raw); err != nil {
			return err
		}

		msg, err := mwebsocket.MsgFromBytes(raw)
		if err != nil {
			return err
		}

		switch msg.Type {
		case msgType:
			return msg.DataTo(v)

		case mwebsocket.MsgTypeErrorResponse:
			var errRes mwebsocket.ErrorResponse
			if err := msg.DataTo(&errRes); err != nil {
				return err
			}
			return errors.New("the server returned an error").
				WithTag("code", errRes.Code)

		default:
			continue
		}
	}
}

// HandleSmokeTest triggers a smoke test run and writes its results.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := Run(ctx, opts)
		if !res.OK {
			logs.WithTag("endpoint", opts.Endpoint).
				Warn(errors.New("smoke test failed").WithTag("error", res.Error))
		}

		data, err := json.Marshal(res)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}
