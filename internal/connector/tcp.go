package connector

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultUDPMaxSize     = 64 * 1024
)

// TCPConnector dials the destination directly, mirroring the teacher's
// direct-dial exit handler (net.DialTimeout, no intermediate hop).
type TCPConnector struct {
	name           string
	connectTimeout time.Duration
	rateLimit      int // bytes/sec per connection, 0 = unlimited
}

// NewTCPConnector builds a direct TCP/UDP connector.
func NewTCPConnector(name string) *TCPConnector {
	return &TCPConnector{name: name, connectTimeout: defaultConnectTimeout}
}

// NewTCPConnectorWithRateLimit builds a direct TCP/UDP connector that caps
// each connection's throughput at bytesPerSecond.
func NewTCPConnectorWithRateLimit(name string, bytesPerSecond int) *TCPConnector {
	return &TCPConnector{name: name, connectTimeout: defaultConnectTimeout, rateLimit: bytesPerSecond}
}

func (c *TCPConnector) Name() string { return c.name }

func (c *TCPConnector) Connect(ctx context.Context, dst *addr.RunAddr) (streamio.Stream, error) {
	d := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		return nil, fmt.Errorf("connector %s: dial %s: %w", c.name, dst.String(), err)
	}
	return streamio.NewTCPStream(newRateLimitedConn(conn, c.rateLimit), "tcp"), nil
}

func (c *TCPConnector) ConnectUDP(ctx context.Context, dst *addr.RunAddr) (streamio.UDPReader, streamio.UDPWriter, error) {
	raddr, err := net.ResolveUDPAddr("udp", dst.String())
	if err != nil {
		return nil, nil, fmt.Errorf("connector %s: resolve udp %s: %w", c.name, dst.String(), err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, nil, fmt.Errorf("connector %s: dial udp %s: %w", c.name, dst.String(), err)
	}
	sock := streamio.NewRawUDPConn(conn, dst.Host, dst.Port, defaultUDPMaxSize)
	return sock, sock, nil
}

var _ Connector = (*TCPConnector)(nil)
