package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// CarrierScheme identifies an alternate wire carrier for the gRPC tunnel,
// selected from a connector/listener endpoint prefix (e.g. "quic://host:port").
type CarrierScheme string

const (
	CarrierQUIC CarrierScheme = "quic"
	CarrierWS   CarrierScheme = "ws"
	CarrierH2   CarrierScheme = "h2"
)

// ParseCarrierEndpoint splits a "scheme://host:port" endpoint into its
// carrier scheme and bare address. An endpoint with no recognized scheme
// prefix is returned unchanged with an empty scheme, meaning "plain TCP".
func ParseCarrierEndpoint(endpoint string) (scheme CarrierScheme, addr string) {
	for _, s := range []CarrierScheme{CarrierQUIC, CarrierWS, CarrierH2} {
		prefix := string(s) + "://"
		if strings.HasPrefix(endpoint, prefix) {
			return s, strings.TrimPrefix(endpoint, prefix)
		}
	}
	return "", endpoint
}

func transportFor(scheme CarrierScheme) (Transport, error) {
	switch scheme {
	case CarrierQUIC:
		return NewQUICTransport(), nil
	case CarrierWS:
		return NewWebSocketTransport(), nil
	case CarrierH2:
		return NewH2Transport(), nil
	default:
		return nil, fmt.Errorf("transport: unknown carrier scheme %q", scheme)
	}
}

// DialCarrierConn dials addr over the named carrier and returns its single
// default stream wrapped as a net.Conn, suitable for use as the underlying
// connection of a grpc.ClientConn (via grpc.WithContextDialer) when an
// operator needs the gRPC tunnel to cross a middlebox that only passes
// QUIC, WebSocket, or HTTP/2 traffic.
func DialCarrierConn(ctx context.Context, scheme CarrierScheme, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	tr, err := transportFor(scheme)
	if err != nil {
		return nil, err
	}

	opts := DefaultDialOptions()
	opts.TLSConfig = tlsConfig

	peer, err := tr.Dial(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s carrier: %w", scheme, err)
	}

	stream, err := peer.OpenStream(ctx)
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("transport: opening %s stream: %w", scheme, err)
	}

	return &carrierConn{peer: peer, stream: stream}, nil
}

// carrierConn adapts a single PeerConn+Stream pair to net.Conn, so it can
// stand in for a plain TCP connection wherever the gRPC tunnel client
// expects one.
type carrierConn struct {
	peer   PeerConn
	stream Stream
}

func (c *carrierConn) Read(p []byte) (int, error)  { return c.stream.Read(p) }
func (c *carrierConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *carrierConn) Close() error {
	streamErr := c.stream.Close()
	peerErr := c.peer.Close()
	if streamErr != nil {
		return streamErr
	}
	return peerErr
}

func (c *carrierConn) LocalAddr() net.Addr  { return c.peer.LocalAddr() }
func (c *carrierConn) RemoteAddr() net.Addr { return c.peer.RemoteAddr() }

func (c *carrierConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *carrierConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *carrierConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }
