package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"hybrid-echo-go/internal/backend"
	"hybrid-echo-go/internal/client"
	"hybrid-echo-go/internal/config"
	"hybrid-echo-go/internal/dispatch"
	"hybrid-echo-go/internal/handler"
	"hybrid-echo-go/internal/metrics"
	"hybrid-echo-go/internal/middleware"
	"hybrid-echo-go/internal/rpc"
	"hybrid-echo-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	Globals config.CLI       `kong:"embed"`
	Version kong.VersionFlag `kong:"help='Print version and exit.'"`

	Serve serveCmd `kong:"cmd,default='1',help='Serve HTTP/JSON and gRPC on one port (default).'"`
	Call  callCmd  `kong:"cmd,help='Send one echo request to a running instance.'"`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("hybrid-echo"),
		kong.Description("Echo service answering HTTP/JSON and gRPC on a single port."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)
	kctx.FatalIfErrorf(kctx.Run(&c.Globals))
}

type serveCmd struct{}

func (serveCmd) Run(globals *config.CLI) error {
	newApp(globals).Run()
	return nil
}

func newApp(globals *config.CLI) *fx.App {
	return fx.New(appOptions(globals))
}

func appOptions(globals *config.CLI) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.CLI { return globals },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			service.NewGreeter,
			newEcho,
			rpc.NewServer,
			newBackendTable,
			handler.NewEchoHandler,
			handler.NewHealthHandler,
			dispatch.NewDispatcher,
			dispatch.NewServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(metrics.WithScrapePath(cfg.Metrics.Path))
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newEcho builds the HTTP/JSON backend engine. It never listens itself; the
// dispatcher hands it requests.
func newEcho(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if rl := cfg.Server.RateLimit; rl.Enabled {
		store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rl.RequestsPerSecond),
			Burst:     rl.Burst,
			ExpiresIn: 3 * time.Minute,
		})
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}

	return e
}

func newBackendTable(e *echo.Echo, s *rpc.Server) (*backend.Table, error) {
	return backend.NewTable(backend.HTTP(e), backend.RPC(s))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, srv *dispatch.Server, rpcSrv *rpc.Server, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "match", cfg.Dispatch.Match)
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("server error", "err", err)
				}
			}()
			rpcSrv.SetServing(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			rpcSrv.SetServing(false)
			err := srv.Shutdown(ctx)
			rpcSrv.Stop()
			return err
		},
	})
}

type callCmd struct {
	Proto   string        `kong:"enum='http,grpc',default='http',help='Protocol to use: http|grpc.'"`
	Target  string        `kong:"help='host:port of a running instance (defaults to the configured listen address).'"`
	Msgpack bool          `kong:"help='Encode the gRPC call as application/grpc+msgpack (needs prefix match mode).'"`
	Timeout time.Duration `kong:"default='10s',help='Request timeout.'"`
	Message string        `kong:"arg,help='Message to echo.'"`
}

func (c *callCmd) Run(globals *config.CLI) error {
	target := c.Target
	if target == "" {
		cfg, err := config.Load(globals)
		if err != nil {
			return err
		}
		target = dialAddr(cfg.Server.Host, cfg.Server.Port)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cl, err := client.New(target, c.Timeout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	var greeting string
	switch c.Proto {
	case "grpc":
		greeting, err = cl.EchoRPC(ctx, c.Message, c.Msgpack)
	default:
		greeting, err = cl.EchoHTTP(ctx, c.Message)
	}
	if err != nil {
		return err
	}

	fmt.Println(greeting)
	return nil
}

// dialAddr turns a listen address into one a local client can connect to.
func dialAddr(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
