package tunnelgrpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

// ErrStreamClosed is returned by a LogicalSubStream once its callback has
// been removed, either by a CLOSE_SRC_ID frame or because the underlying
// gRPC stream broke.
var ErrStreamClosed = errors.New("tunnelgrpc: stream closed")

// subChannel is the per-src_id mailbox a dispatcher delivers Frames into.
// Closing it (exactly once) is how a broken tunnel or an explicit
// CLOSE_SRC_ID fails every pending and future read on the sub-stream.
type subChannel struct {
	frames chan *Frame

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubChannel(depth int) *subChannel {
	return &subChannel{frames: make(chan *Frame, depth), closed: make(chan struct{})}
}

func (c *subChannel) deliver(f *Frame) bool {
	select {
	case c.frames <- f:
		return true
	case <-c.closed:
		return false
	}
}

func (c *subChannel) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// LogicalSubStream is one TCP-shaped logical connection multiplexed over a
// shared gRPC tunnel stream, identified by its src_id.
type LogicalSubStream struct {
	srcID   string
	sendFn  func(*Frame) error
	removed func()
	ch      *subChannel
	info    *streamio.Info

	mu      sync.Mutex
	leftover []byte
}

func newLogicalSubStream(srcID string, sendFn func(*Frame) error, removed func(), ch *subChannel) *LogicalSubStream {
	return &LogicalSubStream{srcID: srcID, sendFn: sendFn, removed: removed, ch: ch, info: streamio.NewInfo("grpc")}
}

// SrcID returns the multiplexing key for this sub-stream.
func (s *LogicalSubStream) SrcID() string { return s.srcID }

// Info returns the stream's protocol descriptor.
func (s *LogicalSubStream) Info() *streamio.Info { return s.info }

// Peek is unsupported; the multiplexed tunnel carries whole DATA frames,
// not a byte-addressable lookahead buffer.
func (s *LogicalSubStream) Peek(n int) ([]byte, error) { return nil, streamio.ErrPeekUnsupported }

// Read returns bytes from the next DATA frame(s) addressed to this
// sub-stream, buffering any excess beyond len(p) for the next call.
func (s *LogicalSubStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		s.leftover = s.leftover[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	select {
	case f, ok := <-s.ch.frames:
		if !ok {
			return 0, io.EOF
		}
		if f.Cmd == CmdCloseSrcID {
			return 0, io.EOF
		}
		n := copy(p, f.Payload)
		if n < len(f.Payload) {
			s.mu.Lock()
			s.leftover = append([]byte(nil), f.Payload[n:]...)
			s.mu.Unlock()
		}
		return n, nil
	case <-s.ch.closed:
		return 0, ErrStreamClosed
	}
}

// Write emits p as one DATA frame.
func (s *LogicalSubStream) Write(p []byte) (int, error) {
	err := s.sendFn(&Frame{Cmd: CmdData, SrcID: s.srcID, Payload: p})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close removes this sub-stream's handler from the owning manager and
// signals CLOSE_SRC_ID to the peer.
func (s *LogicalSubStream) Close() error {
	s.ch.close()
	if s.removed != nil {
		s.removed()
	}
	return s.sendFn(&Frame{Cmd: CmdCloseSrcID, SrcID: s.srcID})
}

func (s *LogicalSubStream) LocalAddr() net.Addr  { return noopAddr{} }
func (s *LogicalSubStream) RemoteAddr() net.Addr { return noopAddr{} }

// Deadlines have no meaning over a multiplexed tunnel frame stream; reads
// unblock via ctx cancellation at the gRPC stream level instead.
func (s *LogicalSubStream) SetDeadline(t time.Time) error      { return nil }
func (s *LogicalSubStream) SetReadDeadline(t time.Time) error  { return nil }
func (s *LogicalSubStream) SetWriteDeadline(t time.Time) error { return nil }

// CloseWrite has no meaning over a multiplexed tunnel frame; the peer
// learns the direction is done only via CLOSE_SRC_ID, which tears down
// both directions at once.
func (s *LogicalSubStream) CloseWrite() error { return nil }

type readHalf struct{ *LogicalSubStream }
type writeHalf struct{ *LogicalSubStream }

func (w writeHalf) CloseWrite() error { return w.LogicalSubStream.CloseWrite() }

// Split returns independent read/write views over the same sub-stream.
func (s *LogicalSubStream) Split() (streamio.ReadHalf, streamio.WriteHalf) {
	return readHalf{s}, writeHalf{s}
}

// UDPSubStream carries UdpPacket datagrams instead of raw bytes, for the
// udp=true tunnel variant.
type UDPSubStream struct {
	srcID  string
	sendFn func(*Frame) error
	ch     *subChannel
}

func newUDPSubStream(srcID string, sendFn func(*Frame) error, ch *subChannel) *UDPSubStream {
	return &UDPSubStream{srcID: srcID, sendFn: sendFn, ch: ch}
}

// ReadPacket blocks for the next datagram addressed to this sub-stream.
func (s *UDPSubStream) ReadPacket(ctx context.Context) (*addr.UDPPacket, error) {
	select {
	case f, ok := <-s.ch.frames:
		if !ok {
			return nil, io.EOF
		}
		return &addr.UDPPacket{
			Meta: addr.UDPMeta{DstHost: f.DstAddr, DstPort: f.DstPort, SrcHost: f.SrcAddr, SrcPort: f.SrcPort},
			Data: f.Payload,
		}, nil
	case <-s.ch.closed:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WritePacket sends pkt as one DATA frame carrying its addressing metadata.
func (s *UDPSubStream) WritePacket(ctx context.Context, pkt *addr.UDPPacket) error {
	return s.sendFn(&Frame{
		Cmd:     CmdData,
		SrcID:   s.srcID,
		UDP:     true,
		DstAddr: pkt.Meta.DstHost,
		DstPort: pkt.Meta.DstPort,
		SrcAddr: pkt.Meta.SrcHost,
		SrcPort: pkt.Meta.SrcPort,
		Payload: pkt.Data,
	})
}

var (
	_ streamio.Stream    = (*LogicalSubStream)(nil)
	_ streamio.UDPReader = (*UDPSubStream)(nil)
	_ streamio.UDPWriter = (*UDPSubStream)(nil)
)

type noopAddr struct{}

func (noopAddr) Network() string { return "grpc-tunnel" }
func (noopAddr) String() string  { return "grpc-tunnel" }
