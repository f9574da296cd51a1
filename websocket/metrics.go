package websocket

import (
	"reflect"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	})

	receivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_msgs_total",
		Help: "The number of received messages.",
	}, []string{"msg_type"})

	receivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes_total",
		Help: "The number of received bytes.",
	}, []string{"msg_type"})

	receiveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors_total",
		Help: "The number of errors that occurred while handling received messages.",
	}, []string{"error_type"})

	sentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_msgs_total",
		Help: "The number of sent messages.",
	}, []string{"msg_type"})

	sentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes_total",
		Help: "The number of sent bytes.",
	}, []string{"msg_type"})

	msgLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ws_msg_latency_seconds",
		Help:    "The time to handle a received message.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"msg_type"})
)

func instrumentClientConnected() {
	connectedClients.Inc()
}

func instrumentClientDisconnected() {
	connectedClients.Dec()
}

func instrumentMsgReceived(msgType MsgType, bytes int) {
	receivedMsgs.WithLabelValues(string(msgType)).Inc()
	receivedBytes.WithLabelValues(string(msgType)).Add(float64(bytes))
}

func instrumentReceiveError(err error) {
	errType := errors.Type(err)
	if errType == "" {
		errType = "unknown"
	}
	receiveErrors.WithLabelValues(errType).Inc()
}

func instrumentMsgSent(msg any, bytes int) {
	msgType := msgTypeOf(msg)
	sentMsgs.WithLabelValues(msgType).Inc()
	sentBytes.WithLabelValues(msgType).Add(float64(bytes))
}

func instrumentSendError(err error) {
	errType := errors.Type(err)
	if errType == "" {
		errType = "unknown"
	}
	receiveErrors.WithLabelValues(errType).Inc()
}

func instrumentMsgLatency(msgType MsgType, d time.Duration) {
	msgLatency.WithLabelValues(string(msgType)).Observe(d.Seconds())
}

// msgTypeOf returns the value of a message's Type field.
func msgTypeOf(msg any) string {
	v := reflect.Indirect(reflect.ValueOf(msg))
	if v.Kind() != reflect.Struct {
		return "unknown"
	}

	f := v.FieldByName("Type")
	if !f.IsValid() || f.Kind() != reflect.String {
		return "unknown"
	}
	return f.String()
}
