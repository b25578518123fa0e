// Package streamio provides the polymorphic bidirectional stream and
// datagram abstractions shared by every ingress acceptor and egress
// connector: a Stream carries a protocol tag and can be split into
// independent read/write halves so the relay engine can run each direction
// in its own goroutine.
package streamio

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Info is a small mutable descriptor attached to each stream, set once by
// whichever acceptor or connector produced the stream.
type Info struct {
	mu           sync.Mutex
	protocolName string
}

// NewInfo creates an Info tagged with the given protocol name.
func NewInfo(protocolName string) *Info {
	return &Info{protocolName: protocolName}
}

// ProtocolName returns the protocol tag (e.g. "tcp", "socks5", "http", "grpc").
func (i *Info) ProtocolName() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.protocolName
}

// SetProtocolName updates the protocol tag.
func (i *Info) SetProtocolName(name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.protocolName = name
}

// ReadHalf is the read-only direction of a split Stream.
type ReadHalf interface {
	Read(p []byte) (int, error)
}

// WriteHalf is the write-only direction of a split Stream. CloseWrite
// half-closes the direction without tearing down the other side, when the
// underlying transport supports it (raw TCP does; most tunnel transports
// treat it as a no-op).
type WriteHalf interface {
	Write(p []byte) (int, error)
	CloseWrite() error
}

// Stream is a bidirectional byte stream carrying a protocol tag. Peek is
// optional: implementations that cannot look ahead without consuming return
// ErrPeekUnsupported, which only the auto-detect ingress needs to avoid.
type Stream interface {
	net.Conn
	Peek(n int) ([]byte, error)
	Info() *Info
	Split() (ReadHalf, WriteHalf)
}

// ErrPeekUnsupported is returned by Peek on streams with no lookahead buffer.
var ErrPeekUnsupported = errPeekUnsupported{}

type errPeekUnsupported struct{}

func (errPeekUnsupported) Error() string { return "peek not supported on this stream" }

var (
	_ Stream = (*TCPStream)(nil)
	_ Stream = (*BufferedStream)(nil)
)

// TCPStream wraps a raw *net.TCPConn (or any net.Conn, for connectors that
// don't hand back a concrete TCP type) as a Stream. It supports the
// zero-copy splice fast path via Raw().
type TCPStream struct {
	net.Conn
	info *Info
}

// NewTCPStream wraps conn, tagged with protocol name.
func NewTCPStream(conn net.Conn, protocolName string) *TCPStream {
	return &TCPStream{Conn: conn, info: NewInfo(protocolName)}
}

// Info returns the stream's protocol descriptor.
func (s *TCPStream) Info() *Info { return s.info }

// Peek is unsupported on a bare TCP stream; callers needing lookahead must
// wrap it in a BufferedStream first.
func (s *TCPStream) Peek(n int) ([]byte, error) { return nil, ErrPeekUnsupported }

type tcpReadHalf struct{ net.Conn }
type tcpWriteHalf struct{ net.Conn }

func (h tcpWriteHalf) CloseWrite() error {
	if hc, ok := h.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

// Split returns independent read/write halves sharing the same socket; a
// *net.TCPConn supports concurrent Read/Write from different goroutines.
func (s *TCPStream) Split() (ReadHalf, WriteHalf) {
	return tcpReadHalf{s.Conn}, tcpWriteHalf{s.Conn}
}

// Raw returns the underlying *net.TCPConn and true if this stream is backed
// by a real OS TCP socket, enabling the optional splice fast path in
// internal/relay.
func (s *TCPStream) Raw() (*net.TCPConn, bool) {
	tc, ok := s.Conn.(*net.TCPConn)
	return tc, ok
}

// BufferedStream wraps a Stream with a bufio.Reader so the first byte can be
// peeked without being consumed — required by the auto-detect ("htss5")
// ingress, which must hand the still-intact byte to whichever downstream
// parser it dispatches to.
type BufferedStream struct {
	inner Stream
	br    *bufio.Reader
}

// NewBufferedStream wraps inner with lookahead support.
func NewBufferedStream(inner Stream) *BufferedStream {
	return &BufferedStream{inner: inner, br: bufio.NewReader(inner)}
}

// NewBufferedStreamFromReader wraps inner around an already-populated
// bufio.Reader, so bytes consumed by a protocol handshake parser (which
// needed its own buffering ahead of the Stream interface existing) are not
// lost to whatever reads the Stream next.
func NewBufferedStreamFromReader(inner Stream, br *bufio.Reader) *BufferedStream {
	return &BufferedStream{inner: inner, br: br}
}

func (b *BufferedStream) Read(p []byte) (int, error)  { return b.br.Read(p) }
func (b *BufferedStream) Write(p []byte) (int, error) { return b.inner.Write(p) }
func (b *BufferedStream) Close() error                { return b.inner.Close() }
func (b *BufferedStream) LocalAddr() net.Addr         { return b.inner.LocalAddr() }
func (b *BufferedStream) RemoteAddr() net.Addr        { return b.inner.RemoteAddr() }

func (b *BufferedStream) SetDeadline(t time.Time) error      { return b.inner.SetDeadline(t) }
func (b *BufferedStream) SetReadDeadline(t time.Time) error  { return b.inner.SetReadDeadline(t) }
func (b *BufferedStream) SetWriteDeadline(t time.Time) error { return b.inner.SetWriteDeadline(t) }

// Peek returns the next n bytes without consuming them.
func (b *BufferedStream) Peek(n int) ([]byte, error) {
	buf, err := b.br.Peek(n)
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, err
}

// Info returns the wrapped stream's protocol descriptor.
func (b *BufferedStream) Info() *Info { return b.inner.Info() }

// Split flushes any buffered-but-unread bytes to a synthetic read half
// first, then defers to the inner stream's write half.
func (b *BufferedStream) Split() (ReadHalf, WriteHalf) {
	_, writeHalf := b.inner.Split()
	return b.br, writeHalf
}
