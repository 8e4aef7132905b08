// Package rpc implements the gRPC side of the echo service.
//
// The examples.Echo schema is assembled at start-up from a descriptor rather
// than from generated code. Its wire format is identical to:
//
//	syntax = "proto3";
//	package examples;
//
//	message EchoRequest  { string message = 1; }
//	message EchoResponse { string message = 1; }
//
//	service Echo {
//	  rpc UnaryEcho(EchoRequest) returns (EchoResponse);
//	}
//
// Messages on the wire are dynamicpb messages, so the stock protobuf codec
// handles them and any protoc-generated client interoperates.
package rpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "examples.Echo"
	// UnaryEchoMethod is the full method path of the unary echo call.
	UnaryEchoMethod = "/examples.Echo/UnaryEcho"
)

// echoSchema holds the resolved descriptors of echo.proto.
type echoSchema struct {
	file     protoreflect.FileDescriptor
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor
}

var schema = mustBuildSchema()

func mustBuildSchema() *echoSchema {
	s, err := buildSchema()
	if err != nil {
		panic(fmt.Sprintf("rpc: build echo schema: %v", err))
	}
	return s
}

func buildSchema() (*echoSchema, error) {
	messageField := func() []*descriptorpb.FieldDescriptorProto {
		return []*descriptorpb.FieldDescriptorProto{{
			Name:     proto.String("message"),
			JsonName: proto.String("message"),
			Number:   proto.Int32(1),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		}}
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("echo.proto"),
		Package: proto.String("examples"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("EchoRequest"), Field: messageField()},
			{Name: proto.String("EchoResponse"), Field: messageField()},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Echo"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("UnaryEcho"),
				InputType:  proto.String(".examples.EchoRequest"),
				OutputType: proto.String(".examples.EchoResponse"),
			}},
		}},
	}

	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("new file descriptor: %w", err)
	}

	return &echoSchema{
		file:     fd,
		request:  fd.Messages().ByName("EchoRequest"),
		response: fd.Messages().ByName("EchoResponse"),
	}, nil
}

// NewRequest returns an examples.EchoRequest carrying text.
func NewRequest(text string) proto.Message {
	return newMessage(schema.request, text)
}

// NewResponse returns an empty examples.EchoResponse to decode into.
func NewResponse() proto.Message {
	return dynamicpb.NewMessage(schema.response)
}

func newMessage(md protoreflect.MessageDescriptor, text string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(md)
	m.Set(md.Fields().ByName("message"), protoreflect.ValueOfString(text))
	return m
}

// MessageText returns the message field of an EchoRequest or EchoResponse.
func MessageText(m proto.Message) (string, error) {
	if m == nil {
		return "", fmt.Errorf("rpc: nil message")
	}
	msg := m.ProtoReflect()
	name := msg.Descriptor().FullName()
	if name != schema.request.FullName() && name != schema.response.FullName() {
		return "", fmt.Errorf("rpc: unexpected message type %s", name)
	}
	fd := msg.Descriptor().Fields().ByName("message")
	if fd == nil || fd.Kind() != protoreflect.StringKind {
		return "", fmt.Errorf("rpc: %s has no string field message", name)
	}
	return msg.Get(fd).String(), nil
}
