package udpassoc

import (
	"context"
	"log/slog"

	"github.com/rikaaa0928/rog/internal/streamio"
)

// RunRawUDP implements §4.9: when a gRPC listener delivers a UDP pair
// instead of a TCP stream there is no SOCKS5 control channel, so the
// association's lifetime is bounded purely by ctx and by read errors on
// the ingress pair.
func RunRawUDP(ctx context.Context, ingress streamio.UDPReader, router Router, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return runPumps(ctx, nil, ingress, router, logger)
}
