package tunnelgrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
)

// v1 is the older single-connection-per-stream tunnel variant, offered
// alongside the multiplexed v2 service: two RPCs, "Stream" for TCP and
// "Udp" for UDP, each carrying exactly one logical connection. There is no
// src_id routing — the stream's first frame doubles as the connect
// request (auth/dst_addr/dst_port) and every frame after is DATA.
const v1ServiceName = "tunnelgrpc.TunnelV1"

var v1StreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	Handler:       v1TCPHandler,
	ServerStreams: true,
	ClientStreams: true,
}

var v1UDPStreamDesc = grpc.StreamDesc{
	StreamName:    "Udp",
	Handler:       v1UDPHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// ServiceDescV1 is registered against a *grpc.Server alongside ServiceDesc
// when a listener accepts v1 connections.
var ServiceDescV1 = grpc.ServiceDesc{
	ServiceName: v1ServiceName,
	HandlerType: (*TunnelServerV1)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams:     []grpc.StreamDesc{v1StreamDesc, v1UDPStreamDesc},
	Metadata:    "tunnelgrpc_v1.proto",
}

// TunnelServerV1 is implemented by Listener to accept v1 TCP/UDP streams.
type TunnelServerV1 interface {
	StreamV1(FrameStream) error
	UDPV1(FrameStream) error
}

// RegisterTunnelServerV1 registers impl's v1 RPCs against s, alongside
// whatever v2 registration the caller also performs via
// RegisterTunnelServer.
func RegisterTunnelServerV1(s grpc.ServiceRegistrar, impl TunnelServerV1) {
	s.RegisterService(&ServiceDescV1, impl)
}

func v1TCPHandler(srv any, stream grpc.ServerStream) error {
	impl, ok := srv.(TunnelServerV1)
	if !ok {
		return fmt.Errorf("tunnelgrpc: v1 server does not implement TunnelServerV1")
	}
	return impl.StreamV1(&tunnelStreamServer{stream})
}

func v1UDPHandler(srv any, stream grpc.ServerStream) error {
	impl, ok := srv.(TunnelServerV1)
	if !ok {
		return fmt.Errorf("tunnelgrpc: v1 server does not implement TunnelServerV1")
	}
	return impl.UDPV1(&tunnelStreamServer{stream})
}

// StreamV1 authenticates and serves one v1 TCP connection, pushing it onto
// the same Accept() channel v2 connections arrive on.
func (l *Listener) StreamV1(stream FrameStream) error {
	return l.serveV1(stream, false)
}

// UDPV1 authenticates and serves one v1 UDP connection.
func (l *Listener) UDPV1(stream FrameStream) error {
	return l.serveV1(stream, true)
}

func (l *Listener) serveV1(stream FrameStream, wantUDP bool) error {
	f, err := stream.Recv()
	if err != nil {
		return err
	}
	if f.Cmd != CmdHandshake {
		return fmt.Errorf("tunnelgrpc: v1 stream did not open with a connect frame")
	}
	if f.UDP != wantUDP {
		return fmt.Errorf("tunnelgrpc: v1 stream udp=%v does not match rpc method", f.UDP)
	}
	if l.passwordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(l.passwordHash), []byte(f.Auth)); err != nil {
			return fmt.Errorf("tunnelgrpc: authentication failed")
		}
	}

	ch := newSubChannel(128)
	var sendMu sync.Mutex
	sendFn := func(fr *Frame) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.Send(fr)
	}
	if err := sendFn(&Frame{Cmd: CmdHandshake}); err != nil {
		return err
	}

	accepted := &Accepted{DstAddr: f.DstAddr, DstPort: f.DstPort}
	if wantUDP {
		accepted.UDP = newUDPSubStream("", sendFn, ch)
	} else {
		accepted.TCP = newLogicalSubStream("", sendFn, func() {}, ch)
	}

	select {
	case l.acceptCh <- accepted:
	default:
		l.logger.Debug("tunnelgrpc: v1 accept queue full, dropping connection")
		ch.close()
		return fmt.Errorf("tunnelgrpc: v1 accept queue full")
	}

	defer ch.close()
	for {
		fr, err := stream.Recv()
		if err != nil {
			return err
		}
		if !ch.deliver(fr) {
			return nil
		}
	}
}

// DialV1 opens a v1 "Stream" RPC for one TCP logical connection: it sends
// the connect frame and returns a streamio.Stream-compatible wrapper once
// the server's handshake reply confirms the connection.
func DialV1(ctx context.Context, cc grpc.ClientConnInterface, auth, dstAddr string, dstPort uint16) (*LogicalSubStream, error) {
	stream, err := dialV1(ctx, cc, &v1StreamDesc, v1ServiceName+"/Stream", auth, dstAddr, dstPort, false)
	if err != nil {
		return nil, err
	}
	ch := newSubChannel(128)
	sendFn := func(f *Frame) error { return stream.Send(f) }
	sub := newLogicalSubStream("", sendFn, func() {}, ch)
	go pumpV1Inbound(stream, ch)
	return sub, nil
}

// DialUDPV1 opens a v1 "Udp" RPC for one UDP logical connection.
func DialUDPV1(ctx context.Context, cc grpc.ClientConnInterface, auth, dstAddr string, dstPort uint16) (*UDPSubStream, error) {
	stream, err := dialV1(ctx, cc, &v1UDPStreamDesc, v1ServiceName+"/Udp", auth, dstAddr, dstPort, true)
	if err != nil {
		return nil, err
	}
	ch := newSubChannel(128)
	sendFn := func(f *Frame) error { return stream.Send(f) }
	sub := newUDPSubStream("", sendFn, ch)
	go pumpV1Inbound(stream, ch)
	return sub, nil
}

func dialV1(ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, fullMethod, auth, dstAddr string, dstPort uint16, udp bool) (Tunnel_StreamClient, error) {
	opts := []grpc.CallOption{grpc.CallContentSubtype(codecName)}
	raw, err := cc.NewStream(ctx, desc, fullMethod, opts...)
	if err != nil {
		return nil, err
	}
	stream := &tunnelStreamClient{raw}

	if err := stream.Send(&Frame{Auth: auth, Cmd: CmdHandshake, DstAddr: dstAddr, DstPort: dstPort, UDP: udp}); err != nil {
		return nil, fmt.Errorf("tunnelgrpc: v1 connect: %w", err)
	}

	respCh := make(chan *Frame, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := stream.Recv()
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		if resp.Cmd != CmdHandshake {
			return nil, fmt.Errorf("tunnelgrpc: v1 connect rejected, cmd=%d", resp.Cmd)
		}
	case err := <-errCh:
		return nil, fmt.Errorf("tunnelgrpc: v1 connect: %w", err)
	case <-time.After(handshakeTimeout):
		return nil, fmt.Errorf("tunnelgrpc: v1 connect timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return stream, nil
}

func pumpV1Inbound(stream Tunnel_StreamClient, ch *subChannel) {
	defer ch.close()
	for {
		f, err := stream.Recv()
		if err != nil {
			return
		}
		if !ch.deliver(f) {
			return
		}
	}
}
