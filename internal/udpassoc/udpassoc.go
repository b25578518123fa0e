// Package udpassoc implements the SOCKS5 UDP ASSOCIATE subsystem (a TCP
// control channel plus a local UDP socket bridged to an egress UDP tunnel)
// and the raw-UDP ingress path used when a gRPC listener delivers a
// datagram pair instead of a TCP stream.
package udpassoc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

// Router decides, for a destination, which egress tunnel to use. It is
// invoked exactly once per association, on the first datagram.
type Router interface {
	RouteUDP(ctx context.Context, dst *addr.RunAddr) (streamio.UDPReader, streamio.UDPWriter, error)
}

// RunOptions configures an Associate call.
type RunOptions struct {
	// Control is the TCP stream the SOCKS5 client issued UDP ASSOCIATE on;
	// its lifetime bounds the association's lifetime.
	Control streamio.Stream
	Router  Router
	Logger  *slog.Logger
}

// Associate binds a local UDP relay socket, replies to the SOCKS5 client,
// and runs the three cancellation-coupled tasks described for UDP
// ASSOCIATE: control-channel watcher, ingress->tunnel pump, tunnel->ingress
// pump. It blocks until the control channel closes or an unrecoverable
// error occurs.
func Associate(ctx context.Context, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	localConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		_ = ingressReply(opts.Control, true, 0)
		return fmt.Errorf("bind local udp socket: %w", err)
	}
	defer localConn.Close()

	bindPort := uint16(localConn.LocalAddr().(*net.UDPAddr).Port)
	if err := ingressReply(opts.Control, false, bindPort); err != nil {
		return fmt.Errorf("send udp associate reply: %w", err)
	}

	local := streamio.NewSocketUDP(localConn, 0)
	return runPumps(ctx, opts.Control, local, opts.Router, logger)
}

func ingressReply(control streamio.Stream, failed bool, bindPort uint16) error {
	_, err := control.Write(addr.ReplyBytes(failed, true, bindPort))
	return err
}

// runPumps implements the three coupled tasks shared by §4.8 (with a
// control channel) and §4.9 (raw-UDP ingress, control == nil).
func runPumps(ctx context.Context, control streamio.Stream, local streamio.UDPReader, router Router, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	doneCh := make(chan struct{}, 3)

	if control != nil {
		go func() {
			defer func() { doneCh <- struct{}{} }()
			defer cancel()
			buf := make([]byte, 1)
			for {
				if _, err := control.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	localWriter, _ := local.(streamio.UDPWriter)

	var tunnelReader streamio.UDPReader
	var tunnelWriter streamio.UDPWriter
	routed := make(chan struct{})
	var routeErr error

	go func() {
		defer func() { doneCh <- struct{}{} }()
		defer cancel()

		first := true
		for {
			pkt, err := local.ReadPacket(ctx)
			if err != nil {
				if first {
					routeErr = err
					close(routed)
				}
				return
			}
			if pkt.Empty() {
				continue
			}
			if first {
				first = false
				tr, tw, err := router.RouteUDP(ctx, &addr.RunAddr{Host: pkt.Meta.DstHost, Port: pkt.Meta.DstPort, UDP: true})
				if err != nil {
					routeErr = err
					close(routed)
					return
				}
				tunnelReader, tunnelWriter = tr, tw
				close(routed)
			}
			if tunnelWriter == nil {
				continue
			}
			if err := tunnelWriter.WritePacket(ctx, pkt); err != nil {
				logger.Debug("udp associate: tunnel write failed", "error", err)
				return
			}
		}
	}()

	go func() {
		defer func() { doneCh <- struct{}{} }()
		defer cancel()

		select {
		case <-routed:
		case <-ctx.Done():
			return
		}
		if routeErr != nil || tunnelReader == nil || localWriter == nil {
			return
		}
		for {
			pkt, err := tunnelReader.ReadPacket(ctx)
			if err != nil {
				return
			}
			if err := localWriter.WritePacket(ctx, pkt); err != nil {
				logger.Debug("udp associate: local write failed", "error", err)
				return
			}
		}
	}()

	waitFor := 2
	if control != nil {
		waitFor = 3
	}
	for i := 0; i < waitFor; i++ {
		<-doneCh
	}
	return nil
}
