package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/midgardlabs/midgard/featureflag"
	midgardhttp "github.com/midgardlabs/midgard/http"
	"github.com/midgardlabs/midgard/models"
	"github.com/midgardlabs/midgard/smoketest"
	"github.com/midgardlabs/midgard/spatial"
	mwebsocket "github.com/midgardlabs/midgard/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Midgard version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "midgard_info",
		Help:        "Midgard information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it,
// the keys would get obfuscated causing the cli package to generate garbled
// command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr              string        `cli:""        env:"MIDGARD_ADDR"                help:"Listening address for client connections."`
	AdminAddr         string        `cli:""        env:"MIDGARD_ADMIN_ADDR"          help:"Admin listening address."`
	ServerID          string        `cli:""        env:"MIDGARD_SERVER_ID"           help:"The id attributed to this server, used as a prefix in world ids."`
	AuthSecret        string        `cli:""        env:"MIDGARD_AUTH_SECRET"         help:"The bearer token required to connect. Empty disables authentication."`
	LogLevel          string        `cli:""        env:"MIDGARD_LOG_LEVEL"           help:"Log level (debug|info|warning|error)."`
	LogIndent         bool          `cli:""        env:"MIDGARD_LOG_INDENT"          help:"Indent logs."`
	ClientIdleTimeout time.Duration `cli:",hidden" env:"MIDGARD_CLIENT_IDLE_TIMEOUT" help:"Time until an idle client will be disconnected."`
	World             worldConfig   `cli:",hidden" env:"-"                           help:"World configuration."`
	Events            eventsConfig  `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags      []string      `cli:",hidden" env:"MIDGARD_FEATURE_FLAGS"       help:"Comma separated feature flags."`
	Version           bool          `cli:""        env:"-"                           help:"Show version."`
	Help              bool          `cli:""        env:"-"                           help:"Show help."`
}

type worldConfig struct {
	CenterX       float64 `cli:",hidden" env:"MIDGARD_WORLD_CENTER_X"        help:"The x coordinate of the world region center."`
	CenterY       float64 `cli:",hidden" env:"MIDGARD_WORLD_CENTER_Y"        help:"The y coordinate of the world region center."`
	HalfSize      float64 `cli:",hidden" env:"MIDGARD_WORLD_HALF_SIZE"       help:"Half the side of the square world region."`
	NodeFullLimit int     `cli:",hidden" env:"MIDGARD_WORLD_NODE_FULL_LIMIT" help:"The number of objects an index node holds before it subdivides."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"MIDGARD_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"MIDGARD_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"MIDGARD_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"MIDGARD_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:              ":4000",
		AdminAddr:         ":18190",
		ServerID:          "midgard",
		LogLevel:          logs.InfoLevel.String(),
		ClientIdleTimeout: time.Minute * 5,
		World: worldConfig{
			HalfSize:      256,
			NodeFullLimit: 8,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a Midgard server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if conf.World.HalfSize <= 0 {
		logs.Fatal(errors.New("the world half size must be strictly positive").
			WithTag("half_size", conf.World.HalfSize))
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "midgard",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	worlds := models.WorldStore{
		ServerID: conf.ServerID,
		Region: spatial.NewSquare(
			float32(conf.World.CenterX),
			float32(conf.World.CenterY),
			float32(conf.World.HalfSize),
		),
		NodeFullLimit: conf.World.NodeFullLimit,
	}

	var service http.ServeMux

	service.Handle("/health", midgardhttp.HandleWithCORS(http.HandlerFunc(midgardhttp.HandleHealthCheck)))
	service.Handle("/version", midgardhttp.HandleWithCORS(midgardhttp.HandleVersion(version)))
	service.Handle("/ready", midgardhttp.HandleWithCORS(midgardhttp.HandleReadyCheck(func() bool {
		return true
	})))

	service.HandleFunc("/smoke-test", midgardhttp.VerifyAuthTokenHandler(conf.AuthSecret,
		smoketest.HandleSmokeTest(ctx, smoketest.Options{
			Endpoint:   fmt.Sprintf("http://localhost%s", conf.Addr),
			AuthSecret: conf.AuthSecret,
		})))

	service.Handle("/", midgardhttp.HandleWithCORS(websocket.Server{
		Handshake: midgardhttp.VerifyAuthToken(ctx, conf.AuthSecret),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			mwebsocket.Handle(ctx, conn, &mwebsocket.RealtimeHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Worlds:            &worlds,
				FeatureFlags:      featureflag.New(conf.FeatureFlags),
			})
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", midgardhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("addr", conf.Addr).
		WithTag("world_half_size", conf.World.HalfSize).
		WithTag("node_full_limit", conf.World.NodeFullLimit).
		Info("starting midgard server")

	midgardhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			midgardhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}
