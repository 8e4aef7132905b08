package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hybrid-echo-go/internal/metrics"
)

// UnaryRecovery returns a gRPC interceptor that turns a handler panic into an
// Internal status so the stream still ends with a well-formed trailer.
func UnaryRecovery(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("rpc handler panic",
					"method", info.FullMethod,
					"panic", fmt.Sprint(p),
					"stack", string(debug.Stack()),
				)
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// UnaryLogger returns a gRPC interceptor that logs each unary call with slog.
func UnaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st := status.Convert(err)
		level := slog.LevelInfo
		if st.Code() != codes.OK {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "rpc request",
			"method", info.FullMethod,
			"code", st.Code().String(),
			"error", st.Message(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", firstMetadata(ctx, "x-request-id"),
			"peer", peerHost(ctx),
		)

		return resp, err
	}
}

// UnaryMetrics returns a gRPC interceptor that records Prometheus metrics for
// each unary call.
func UnaryMetrics(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		method := metrics.NormalizeRPCMethod(info.FullMethod)
		m.RPCHandled.WithLabelValues(method, status.Code(err).String()).Inc()
		m.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
