package rpc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// MsgpackCodecName is the content-subtype served by MsgpackCodec
// ("application/grpc+msgpack").
const MsgpackCodecName = "msgpack"

func init() {
	encoding.RegisterCodec(MsgpackCodec{})
}

// MsgpackCodec encodes flat protobuf messages as a msgpack map keyed by field
// name. Only singular scalar fields are supported, which covers the echo schema.
type MsgpackCodec struct{}

// Name implements encoding.Codec.
func (MsgpackCodec) Name() string { return MsgpackCodecName }

// Marshal implements encoding.Codec.
func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("msgpack codec: cannot marshal %T", v)
	}

	fields := make(map[string]any)
	var rangeErr error
	m.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, val protoreflect.Value) bool {
		if !isScalar(fd) {
			rangeErr = fmt.Errorf("msgpack codec: field %s is not a singular scalar", fd.FullName())
			return false
		}
		fields[string(fd.Name())] = val.Interface()
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}

	return msgpack.Marshal(fields)
}

// Unmarshal implements encoding.Codec. Unknown keys are ignored, as protobuf does.
func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("msgpack codec: cannot unmarshal into %T", v)
	}

	var fields map[string]any
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("msgpack codec: %w", err)
	}

	msg := m.ProtoReflect()
	desc := msg.Descriptor().Fields()
	for name, raw := range fields {
		fd := desc.ByName(protoreflect.Name(name))
		if fd == nil || !isScalar(fd) {
			continue
		}
		val, err := scalarValue(fd, raw)
		if err != nil {
			return fmt.Errorf("msgpack codec: field %s: %w", name, err)
		}
		msg.Set(fd, val)
	}
	return nil
}

func isScalar(fd protoreflect.FieldDescriptor) bool {
	if fd.IsList() || fd.IsMap() {
		return false
	}
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return false
	}
	return true
}

func scalarValue(fd protoreflect.FieldDescriptor, raw any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		switch s := raw.(type) {
		case string:
			return protoreflect.ValueOfString(s), nil
		case []byte:
			return protoreflect.ValueOfString(string(s)), nil
		}
	case protoreflect.BytesKind:
		switch b := raw.(type) {
		case []byte:
			return protoreflect.ValueOfBytes(b), nil
		case string:
			return protoreflect.ValueOfBytes([]byte(b)), nil
		}
	case protoreflect.BoolKind:
		if b, ok := raw.(bool); ok {
			return protoreflect.ValueOfBool(b), nil
		}
	case protoreflect.FloatKind:
		if f, ok := toFloat(raw); ok {
			return protoreflect.ValueOfFloat32(float32(f)), nil
		}
	case protoreflect.DoubleKind:
		if f, ok := toFloat(raw); ok {
			return protoreflect.ValueOfFloat64(f), nil
		}
	case protoreflect.EnumKind:
		if n, ok := toInt(raw); ok {
			return protoreflect.ValueOfEnum(protoreflect.EnumNumber(n)), nil
		}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if n, ok := toInt(raw); ok {
			return protoreflect.ValueOfInt32(int32(n)), nil
		}
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if n, ok := toInt(raw); ok {
			return protoreflect.ValueOfInt64(n), nil
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if n, ok := toInt(raw); ok && n >= 0 {
			return protoreflect.ValueOfUint32(uint32(n)), nil
		}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if u, ok := raw.(uint64); ok {
			return protoreflect.ValueOfUint64(u), nil
		}
		if n, ok := toInt(raw); ok && n >= 0 {
			return protoreflect.ValueOfUint64(uint64(n)), nil
		}
	}
	return protoreflect.Value{}, fmt.Errorf("cannot use %T as %s", raw, fd.Kind())
}

func toInt(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n <= 1<<63-1 {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat(raw any) (float64, bool) {
	switch f := raw.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	if n, ok := toInt(raw); ok {
		return float64(n), true
	}
	return 0, false
}
