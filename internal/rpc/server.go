package rpc

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hybrid-echo-go/internal/config"
	"hybrid-echo-go/internal/metrics"
	"hybrid-echo-go/internal/middleware"
	"hybrid-echo-go/internal/service"
)

// peerIdleTTL is how long an idle peer keeps its rate-limit bucket.
const peerIdleTTL = 10 * time.Minute

// Server is the gRPC backend. It is driven through ServeHTTP by the
// dispatcher and never owns a listener.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer builds the gRPC backend with the echo service registered and,
// when enabled, the standard health service reporting NOT_SERVING until
// SetServing(true) is called.
func NewServer(cfg *config.Config, greeter *service.Greeter, m *metrics.Metrics, logger *slog.Logger) *Server {
	logger = logger.With("component", "rpc")

	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRecovery(logger),
		middleware.UnaryLogger(logger),
		middleware.UnaryMetrics(m),
	}
	if cfg.Server.RateLimit.Enabled {
		limiter := middleware.NewPeerLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst, peerIdleTTL)
		interceptors = append(interceptors, middleware.UnaryRateLimit(limiter))
	}

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(cfg.RPC.MaxRecvMsgBytes),
	)
	RegisterEchoServer(gs, NewEchoService(greeter))

	s := &Server{grpc: gs, logger: logger}
	if cfg.RPC.HealthEnabled() {
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(gs, s.health)
		s.SetServing(false)
	}
	return s
}

// ServeHTTP hands one HTTP/2 stream to the gRPC server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.grpc.ServeHTTP(w, r)
}

// SetServing flips the health status of the server and the echo service.
func (s *Server) SetServing(serving bool) {
	if s.health == nil {
		return
	}
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.logger.Debug("health status changed", "status", st.String())
}

// Stop marks the server NOT_SERVING and closes all in-flight streams.
func (s *Server) Stop() {
	if s.health != nil {
		s.health.Shutdown()
	}
	s.grpc.Stop()
}

// Services lists the registered gRPC service names in sorted order.
func (s *Server) Services() []string {
	info := s.grpc.GetServiceInfo()
	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
