// Package control exposes the dispatcher's sensor operations over gRPC.
//
// The service is declared by hand rather than generated: every method takes
// and returns a google.protobuf.Struct, so clients in any language can call
// it with the well-known types alone.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/umrr-bridge/internal/radar"
	"github.com/banshee-data/umrr-bridge/internal/transport"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "radar.v1.SensorControl"

// Commander is the set of operations the service forwards. The Dispatcher
// satisfies it.
type Commander interface {
	SetMode(slot int, instruction string, value int64) (radar.Ack, error)
	SetIP(slot int, address string) (radar.Ack, error)
	SendCommand(slot int, command string, value int64) (radar.Ack, error)
}

// SensorControlServer is the server API of radar.v1.SensorControl.
type SensorControlServer interface {
	SetMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetIp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ SensorControlServer = (*Server)(nil)

// Server implements SensorControlServer on top of a Commander.
type Server struct {
	cmd Commander
}

// NewServer returns a service forwarding to cmd.
func NewServer(cmd Commander) *Server {
	return &Server{cmd: cmd}
}

// SetMode takes {slot, instruction, value}.
func (s *Server) SetMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(in)
	if err != nil {
		return nil, err
	}
	name, err := stringField(in, "instruction")
	if err != nil {
		return nil, err
	}
	value, err := intField(in, "value")
	if err != nil {
		return nil, err
	}
	return ackReply(s.cmd.SetMode(slot, name, value))
}

// SetIp takes {slot, address}.
func (s *Server) SetIp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(in)
	if err != nil {
		return nil, err
	}
	addr, err := stringField(in, "address")
	if err != nil {
		return nil, err
	}
	return ackReply(s.cmd.SetIP(slot, addr))
}

// SendCommand takes {slot, command, value}.
func (s *Server) SendCommand(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(in)
	if err != nil {
		return nil, err
	}
	name, err := stringField(in, "command")
	if err != nil {
		return nil, err
	}
	value, err := intField(in, "value")
	if err != nil {
		return nil, err
	}
	return ackReply(s.cmd.SendCommand(slot, name, value))
}

func ackReply(ack radar.Ack, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, StatusError(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"accepted":  ack.Accepted,
		"client_id": string(ack.ClientID),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// StatusError maps the bridge's error kinds onto gRPC codes.
func StatusError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, radar.ErrShuttingDown):
		code = codes.Unavailable
	case errors.Is(err, radar.ErrUnknownSlot):
		code = codes.NotFound
	case errors.Is(err, radar.ErrDuplicateClient):
		code = codes.AlreadyExists
	case errors.Is(err, radar.ErrConfiguration):
		code = codes.InvalidArgument
	case errors.Is(err, transport.ErrQueueFull):
		code = codes.ResourceExhausted
	}
	return status.Error(code, err.Error())
}

func number(in *structpb.Struct, key string, required bool) (float64, bool, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		if required {
			return 0, false, status.Errorf(codes.InvalidArgument, "missing field %q", key)
		}
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false, status.Errorf(codes.InvalidArgument, "field %q must be a number", key)
	}
	f := n.NumberValue
	if f != math.Trunc(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false, status.Errorf(codes.InvalidArgument, "field %q must be an integer, got %v", key, f)
	}
	return f, true, nil
}

func slotField(in *structpb.Struct) (int, error) {
	f, _, err := number(in, "slot", true)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// intField reads an optional integer; absent means 0.
func intField(in *structpb.Struct, key string) (int64, error) {
	f, _, err := number(in, key, false)
	return int64(f), err
}

func stringField(in *structpb.Struct, key string) (string, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "missing field %q", key)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "field %q must be a string", key)
	}
	return s.StringValue, nil
}

func unaryHandler(method string, call func(SensorControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := fmt.Sprintf("/%s/%s", ServiceName, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SensorControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SensorControlServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes radar.v1.SensorControl.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SensorControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("SetMode", SensorControlServer.SetMode),
		unaryHandler("SetIp", SensorControlServer.SetIp),
		unaryHandler("SendCommand", SensorControlServer.SendCommand),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "radar/v1/control.proto",
}

// RegisterSensorControlServer registers srv on s.
func RegisterSensorControlServer(s grpc.ServiceRegistrar, srv SensorControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
