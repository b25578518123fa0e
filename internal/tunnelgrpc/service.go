package tunnelgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceName matches what a generated tunnel.proto would declare; kept
// here by hand since the generated stubs are out of scope.
const serviceName = "tunnelgrpc.Tunnel"

// TunnelClient is the hand-written equivalent of a protoc-gen-go-grpc
// client stub for a single bidi-streaming RPC.
type TunnelClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (Tunnel_StreamClient, error)
}

type tunnelClient struct {
	cc grpc.ClientConnInterface
}

// NewTunnelClient wraps cc for the Stream RPC, using the codec registered
// in codec.go instead of protobuf.
func NewTunnelClient(cc grpc.ClientConnInterface) TunnelClient {
	return &tunnelClient{cc: cc}
}

func (c *tunnelClient) Stream(ctx context.Context, opts ...grpc.CallOption) (Tunnel_StreamClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &streamDesc, serviceName+"/Stream", opts...)
	if err != nil {
		return nil, err
	}
	return &tunnelStreamClient{stream}, nil
}

// Tunnel_StreamClient is the client's view of the bidi stream.
type Tunnel_StreamClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ClientStream
}

type tunnelStreamClient struct {
	grpc.ClientStream
}

func (s *tunnelStreamClient) Send(f *Frame) error { return s.ClientStream.SendMsg(f) }
func (s *tunnelStreamClient) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// TunnelServer is the hand-written equivalent of a protoc-gen-go-grpc
// server interface for the Stream RPC. It only needs Send/Recv (FrameStream),
// not the full grpc.ServerStream surface, which keeps it easy to drive
// against an in-memory fake in tests.
type TunnelServer interface {
	Stream(FrameStream) error
}

// Tunnel_StreamServer is the server's view of the bidi stream.
type Tunnel_StreamServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

type tunnelStreamServer struct {
	grpc.ServerStream
}

func (s *tunnelStreamServer) Send(f *Frame) error { return s.ServerStream.SendMsg(f) }
func (s *tunnelStreamServer) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	impl, ok := srv.(TunnelServer)
	if !ok {
		return status.Error(codes.Internal, "tunnelgrpc: server does not implement TunnelServer")
	}
	return impl.Stream(&tunnelStreamServer{stream})
}

var streamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	Handler:       streamHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// ServiceDesc is registered against a *grpc.Server in place of the
// generated RegisterTunnelServer helper.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TunnelServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams:     []grpc.StreamDesc{streamDesc},
	Metadata:    "tunnelgrpc.proto",
}

// RegisterTunnelServer registers impl against s, mirroring the generated
// RegisterXxxServer helper protoc-gen-go-grpc would normally produce.
func RegisterTunnelServer(s grpc.ServiceRegistrar, impl TunnelServer) {
	s.RegisterService(&ServiceDesc, impl)
}
