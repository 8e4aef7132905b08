package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"hybrid-echo-go/internal/service"
)

// EchoRequest is the decoded form of examples.EchoRequest.
type EchoRequest struct {
	Message string
}

// EchoResponse is the decoded form of examples.EchoResponse.
type EchoResponse struct {
	Message string
}

// EchoServer is the server API for the examples.Echo service.
type EchoServer interface {
	UnaryEcho(context.Context, *EchoRequest) (*EchoResponse, error)
}

var echoServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EchoServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UnaryEcho", Handler: unaryEchoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "echo.proto",
}

// RegisterEchoServer registers srv as the examples.Echo implementation.
func RegisterEchoServer(s grpc.ServiceRegistrar, srv EchoServer) {
	s.RegisterService(&echoServiceDesc, srv)
}

func unaryEchoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := NewRequest("")
	if err := dec(in); err != nil {
		return nil, err
	}

	call := func(ctx context.Context, req any) (any, error) {
		m, ok := req.(proto.Message)
		if !ok {
			return nil, status.Errorf(codes.Internal, "unexpected request type %T", req)
		}
		text, err := MessageText(m)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out, err := srv.(EchoServer).UnaryEcho(ctx, &EchoRequest{Message: text})
		if err != nil {
			return nil, err
		}
		return newMessage(schema.response, out.Message), nil
	}

	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: UnaryEchoMethod,
	}
	return interceptor(ctx, in, info, call)
}

// EchoService answers UnaryEcho with the shared greeter.
type EchoService struct {
	greeter *service.Greeter
}

// NewEchoService creates an EchoService.
func NewEchoService(g *service.Greeter) *EchoService {
	return &EchoService{greeter: g}
}

// UnaryEcho implements EchoServer.
func (s *EchoService) UnaryEcho(ctx context.Context, req *EchoRequest) (*EchoResponse, error) {
	greeting, err := s.greeter.Greet(ctx, req.Message)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &EchoResponse{Message: greeting}, nil
}
