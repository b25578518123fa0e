package object

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/recovery"
	"github.com/rikaaa0928/rog/internal/relay"
	"github.com/rikaaa0928/rog/internal/tunnelgrpc"
	"github.com/rikaaa0928/rog/internal/udpassoc"
	"google.golang.org/grpc"
)

func (o *Object) runGRPC(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("object %s: listen %s: %w", o.cfg.Name, o.cfg.Endpoint, err)
	}

	tunnelListener := tunnelgrpc.NewListener(o.cfg.Password, o.logger)
	srv := grpc.NewServer()
	tunnelgrpc.RegisterTunnelServer(srv, tunnelListener)
	tunnelgrpc.RegisterTunnelServerV1(srv, tunnelListener)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ln) }()

	for {
		select {
		case accepted, ok := <-tunnelListener.Accept():
			if !ok {
				return nil
			}
			atomic.AddInt64(&o.stats.Accepted, 1)
			go o.handleAccepted(ctx, accepted)
		case err := <-serveErrCh:
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("object %s: grpc serve: %w", o.cfg.Name, err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *Object) handleAccepted(ctx context.Context, accepted *tunnelgrpc.Accepted) {
	defer recovery.RecoverWithLog(o.logger, "object."+o.cfg.Name+".grpc")
	atomic.AddInt64(&o.stats.Active, 1)
	defer atomic.AddInt64(&o.stats.Active, -1)

	dst := &addr.RunAddr{Host: accepted.DstAddr, Port: accepted.DstPort, UDP: accepted.UDP != nil}

	if accepted.UDP != nil {
		r := &routerAdapter{router: o.router, connectors: o.connectors, listener: o.cfg.Name}
		if err := udpassoc.RunRawUDP(ctx, accepted.UDP, r, o.logger); err != nil {
			o.logger.Debug("object: grpc udp association ended", "listener", o.cfg.Name, "error", err)
		}
		return
	}

	connName := o.router.Route(ctx, o.cfg.Name, dst)
	conn, err := o.connectors.Get(connName)
	if err != nil {
		o.logger.Error("object: route-miss, no such connector", "listener", o.cfg.Name, "connector", connName, "error", err)
		atomic.AddInt64(&o.stats.Errors, 1)
		_ = accepted.TCP.Close()
		return
	}

	egress, err := conn.Connect(ctx, dst)
	if err != nil {
		o.logger.Error("object: egress connect failed", "listener", o.cfg.Name, "connector", connName, "dst", dst.String(), "error", err)
		atomic.AddInt64(&o.stats.Errors, 1)
		_ = accepted.TCP.Close()
		return
	}

	if err := relay.Run(ctx, accepted.TCP, egress, relay.Options{}); err != nil {
		o.logger.Debug("object: relay ended", "listener", o.cfg.Name, "dst", dst.String(), "error", err)
	}
}
