// Package connector implements the four egress connector kinds
// (direct TCP/UDP, gRPC tunnel, gRPC v1 tunnel, block) and the lazy, name-keyed connector
// cache sitting between the router and the relay/UDP-association layers
// (§3, §4.14).
package connector

import (
	"context"
	"fmt"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

// Connector is an egress driver chosen by the router: it produces a stream
// for TCP-like flows or a datagram pair for UDP-like flows.
type Connector interface {
	// Connect dials dst and returns a TCP-shaped stream.
	Connect(ctx context.Context, dst *addr.RunAddr) (streamio.Stream, error)
	// ConnectUDP implements udpassoc.Router: it is invoked once per UDP
	// association on the first non-empty datagram.
	ConnectUDP(ctx context.Context, dst *addr.RunAddr) (streamio.UDPReader, streamio.UDPWriter, error)
	// Name is the connector's configured name, used for logging.
	Name() string
}

// ErrUnknownProto is returned by a BuildCache factory for an unrecognized
// connector proto; Cache.Get wraps it.
var ErrUnknownProto = fmt.Errorf("connector: unknown proto")

// ErrUnknownName is returned by Cache.Get when no factory is registered
// under the requested connector name.
var ErrUnknownName = fmt.Errorf("connector: unknown name")
