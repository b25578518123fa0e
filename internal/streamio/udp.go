package streamio

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rikaaa0928/rog/internal/addr"
)

// UDPReader is the read side of a datagram transport: a SOCKS5 UDP
// ASSOCIATE local socket, a raw UDP ingress socket, or a gRPC tunnel
// sub-stream carrying datagrams instead of bytes.
type UDPReader interface {
	ReadPacket(ctx context.Context) (*addr.UDPPacket, error)
}

// UDPWriter is the write side of a datagram transport.
type UDPWriter interface {
	WritePacket(ctx context.Context, pkt *addr.UDPPacket) error
}

// SocketUDP adapts a *net.UDPConn into a UDPReader/UDPWriter pair, decoding
// and encoding the SOCKS5 UDP request/reply header on each datagram.
type SocketUDP struct {
	conn    *net.UDPConn
	maxSize int
}

// NewSocketUDP wraps conn. maxSize bounds the receive buffer; 0 selects a
// sane default sized for typical UDP MTUs.
func NewSocketUDP(conn *net.UDPConn, maxSize int) *SocketUDP {
	if maxSize <= 0 {
		maxSize = 65535
	}
	return &SocketUDP{conn: conn, maxSize: maxSize}
}

// ReadPacket blocks until a datagram arrives, honoring ctx cancellation via
// the connection's read deadline.
func (s *SocketUDP) ReadPacket(ctx context.Context) (*addr.UDPPacket, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, s.maxSize)
	n, peer, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return addr.ParseUDP(buf[:n], peer)
}

// WritePacket encodes pkt's SOCKS5 UDP reply header and sends it to the
// packet's resolved destination endpoint.
func (s *SocketUDP) WritePacket(ctx context.Context, pkt *addr.UDPPacket) error {
	payload, _, dstEndpoint := pkt.ReplyBytesUDP()
	dst, err := net.ResolveUDPAddr("udp", dstEndpoint)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	_, err = s.conn.WriteToUDP(payload, dst)
	return err
}

// RawUDPConn adapts a connected *net.UDPConn (dialed to a single egress
// destination via net.DialUDP) into a UDPReader/UDPWriter pair that moves
// raw datagram payloads. Unlike SocketUDP, it never applies the SOCKS5 UDP
// wire codec: a connected socket already pins the OS-level peer, so the
// only thing that crosses the wire is pkt.Data.
//
// The reply leg needs the original client's address to hand back to the
// caller, but a connected UDP socket has no way to learn that from the
// wire. RawUDPConn instead remembers it from the addressing metadata
// carried on WritePacket (the destination dialed at construction time is
// already known, and the client's address rides along as pkt.Meta.Src on
// every forwarded datagram).
type RawUDPConn struct {
	conn    *net.UDPConn
	dst     addr.UDPMeta
	maxSize int

	mu      sync.Mutex
	srcMeta addr.UDPMeta
}

// NewRawUDPConn wraps conn, which must already be connected to
// dstHost:dstPort. maxSize bounds the receive buffer; 0 selects a sane
// default sized for typical UDP MTUs.
func NewRawUDPConn(conn *net.UDPConn, dstHost string, dstPort uint16, maxSize int) *RawUDPConn {
	if maxSize <= 0 {
		maxSize = 65535
	}
	return &RawUDPConn{conn: conn, dst: addr.UDPMeta{DstHost: dstHost, DstPort: dstPort}, maxSize: maxSize}
}

// WritePacket writes pkt.Data directly to the connected socket and
// remembers pkt's source metadata so a subsequent ReadPacket can address
// its reply back to the original caller.
func (s *RawUDPConn) WritePacket(ctx context.Context, pkt *addr.UDPPacket) error {
	s.mu.Lock()
	s.srcMeta = pkt.Meta
	s.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	}
	_, err := s.conn.Write(pkt.Data)
	return err
}

// ReadPacket blocks until a datagram arrives from the connected peer,
// honoring ctx cancellation via the connection's read deadline. The
// returned packet's Meta.Dst is the client address learned from the last
// WritePacket, so the caller can relay it back without re-decoding
// anything from the wire.
func (s *RawUDPConn) ReadPacket(ctx context.Context) (*addr.UDPPacket, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, s.maxSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	client := s.srcMeta
	s.mu.Unlock()

	data := make([]byte, n)
	copy(data, buf[:n])

	return &addr.UDPPacket{
		Meta: addr.UDPMeta{
			DstHost: client.SrcHost,
			DstPort: client.SrcPort,
			SrcHost: s.dst.DstHost,
			SrcPort: s.dst.DstPort,
		},
		Data: data,
	}, nil
}

var (
	_ UDPReader = (*RawUDPConn)(nil)
	_ UDPWriter = (*RawUDPConn)(nil)
)

// ChanUDP is an in-memory UDPReader/UDPWriter pair backed by channels,
// used to bridge a gRPC tunnel sub-stream's datagram mode to the rest of
// the UDP ASSOCIATE pipeline without an OS socket in the middle.
type ChanUDP struct {
	in  chan *addr.UDPPacket
	out chan *addr.UDPPacket
}

// NewChanUDP creates a ChanUDP with the given buffer depth per direction.
func NewChanUDP(depth int) *ChanUDP {
	return &ChanUDP{
		in:  make(chan *addr.UDPPacket, depth),
		out: make(chan *addr.UDPPacket, depth),
	}
}

// ReadPacket returns the next packet pushed via Deliver, or an error if ctx
// is done first.
func (c *ChanUDP) ReadPacket(ctx context.Context) (*addr.UDPPacket, error) {
	select {
	case pkt := <-c.in:
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WritePacket enqueues pkt for the Outbound channel's consumer.
func (c *ChanUDP) WritePacket(ctx context.Context, pkt *addr.UDPPacket) error {
	select {
	case c.out <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver pushes an inbound packet for ReadPacket to return. Used by the
// transport-side goroutine feeding this pair.
func (c *ChanUDP) Deliver(ctx context.Context, pkt *addr.UDPPacket) error {
	select {
	case c.in <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound exposes the channel that WritePacket enqueues onto, for the
// transport-side goroutine draining packets destined for the wire.
func (c *ChanUDP) Outbound() <-chan *addr.UDPPacket {
	return c.out
}
