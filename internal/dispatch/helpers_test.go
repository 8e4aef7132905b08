package dispatch

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/http2"

	"hybrid-echo-go/internal/backend"
	"hybrid-echo-go/internal/config"
	"hybrid-echo-go/internal/handler"
	"hybrid-echo-go/internal/metrics"
	"hybrid-echo-go/internal/rpc"
	"hybrid-echo-go/internal/service"
)

type testStack struct {
	cfg     *config.Config
	table   *backend.Table
	disp    *Dispatcher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// newTestStack wires both backends the way the binary does, minus echo's
// Recover middleware so backend panics reach the dispatcher.
func newTestStack(t *testing.T, match string) *testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1"},
		Dispatch: config.DispatchConfig{Match: match},
		RPC:      config.RPCConfig{MaxRecvMsgBytes: 1 << 20},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	m := metrics.New()
	greeter := service.NewGreeter(logger)

	e := echo.New()
	e.HTTPErrorHandler = handler.ErrorHandler(logger)
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})
	e.GET("/panic-late", func(c echo.Context) error {
		c.Response().WriteHeader(http.StatusOK)
		_, _ = c.Response().Write([]byte("partial"))
		panic("boom")
	})

	s := rpc.NewServer(cfg, greeter, m, logger)
	table, err := backend.NewTable(backend.HTTP(e), backend.RPC(s))
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	handler.RegisterRoutes(e, handler.NewEchoHandler(greeter, logger), handler.NewHealthHandler(cfg, "test", table), cfg, m)

	d, err := NewDispatcher(table, cfg, m, logger)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return &testStack{cfg: cfg, table: table, disp: d, metrics: m, logger: logger}
}

func newTestTable(t *testing.T) *backend.Table {
	t.Helper()
	return newTestStack(t, "exact").table
}

// start serves the stack on a loopback port and returns host:port.
func (s *testStack) start(t *testing.T) string {
	t.Helper()

	srv, err := NewServer(s.cfg, s.disp, s.logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})
	return ln.Addr().String()
}

// h2cClient speaks HTTP/2 with prior knowledge over plain TCP.
func h2cClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
		Timeout: 5 * time.Second,
	}
}

// counterValue returns the value of the counter series with the given labels.
func counterValue(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
