package connector

import (
	"context"
	"fmt"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

// BlockConnector refuses every connection; selecting it is how a route
// rule blackholes matched traffic.
type BlockConnector struct {
	name string
}

func NewBlockConnector(name string) *BlockConnector { return &BlockConnector{name: name} }

func (c *BlockConnector) Name() string { return c.name }

func (c *BlockConnector) Connect(ctx context.Context, dst *addr.RunAddr) (streamio.Stream, error) {
	return nil, fmt.Errorf("connector %s: destination %s blocked by rule", c.name, dst.String())
}

func (c *BlockConnector) ConnectUDP(ctx context.Context, dst *addr.RunAddr) (streamio.UDPReader, streamio.UDPWriter, error) {
	return nil, nil, fmt.Errorf("connector %s: destination %s blocked by rule", c.name, dst.String())
}

var _ Connector = (*BlockConnector)(nil)
