package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
	"github.com/rikaaa0928/rog/internal/tunnelgrpc"
	"google.golang.org/grpc"
)

// GRPCV1Connector dials the older single-connection-per-stream v1 tunnel
// service: every call to Connect/ConnectUDP opens its own gRPC stream
// directly instead of multiplexing through a StreamManager.
type GRPCV1Connector struct {
	name     string
	endpoint string
	auth     string
	logger   *slog.Logger

	mu sync.Mutex
	cc *grpc.ClientConn
}

// NewGRPCV1Connector builds a v1 gRPC tunnel connector dialing endpoint
// with auth as the tunnel's shared password.
func NewGRPCV1Connector(name, endpoint, auth string, logger *slog.Logger) *GRPCV1Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCV1Connector{name: name, endpoint: endpoint, auth: auth, logger: logger}
}

func (c *GRPCV1Connector) Name() string { return c.name }

func (c *GRPCV1Connector) ensureConn() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cc != nil {
		return c.cc, nil
	}
	cc, err := dialGRPCClientConn(c.name, c.endpoint)
	if err != nil {
		return nil, err
	}
	c.cc = cc
	return cc, nil
}

func (c *GRPCV1Connector) Connect(ctx context.Context, dst *addr.RunAddr) (streamio.Stream, error) {
	cc, err := c.ensureConn()
	if err != nil {
		return nil, err
	}
	sub, err := tunnelgrpc.DialV1(ctx, cc, c.auth, dst.Host, dst.Port)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", c.name, err)
	}
	return sub, nil
}

func (c *GRPCV1Connector) ConnectUDP(ctx context.Context, dst *addr.RunAddr) (streamio.UDPReader, streamio.UDPWriter, error) {
	cc, err := c.ensureConn()
	if err != nil {
		return nil, nil, err
	}
	sub, err := tunnelgrpc.DialUDPV1(ctx, cc, c.auth, dst.Host, dst.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("connector %s: %w", c.name, err)
	}
	return sub, sub, nil
}

var _ Connector = (*GRPCV1Connector)(nil)
