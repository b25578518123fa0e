// Package object implements the per-listener orchestrator (§4.14): it owns
// one ingress acceptor, accepts connections in a loop, and spawns one task
// per accepted unit that runs handshake -> route -> connect -> relay.
package object

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/connector"
	"github.com/rikaaa0928/rog/internal/ingress"
	"github.com/rikaaa0928/rog/internal/recovery"
	"github.com/rikaaa0928/rog/internal/relay"
	"github.com/rikaaa0928/rog/internal/router"
	"github.com/rikaaa0928/rog/internal/streamio"
	"github.com/rikaaa0928/rog/internal/udpassoc"
)

// Proto is one of the configured listener ingress kinds (§6).
type Proto string

const (
	ProtoSOCKS5 Proto = "socks5"
	ProtoHTTP   Proto = "http"
	ProtoHTSS5  Proto = "htss5" // alias for ProtoAuto, per §4.4's "auto-detect / htss5"
	ProtoAuto   Proto = "auto"
	ProtoGRPC   Proto = "grpc"
)

// Config is the parsed shape of one `[[listener]]` config entry.
type Config struct {
	Name     string
	Endpoint string
	Proto    Proto
	Router   string
	User     string
	Password string
}

// Stats are the counters kept for a running Object (§4.14), read through
// Object.Stats; they are not exported to internal/metrics.
type Stats struct {
	Accepted int64
	Active   int64
	Errors   int64
}

// Object is the per-listener orchestrator.
type Object struct {
	cfg        Config
	router     *router.Router
	connectors *connector.Cache
	logger     *slog.Logger

	stats Stats
}

// New builds an Object bound to its router and the shared connector cache.
func New(cfg Config, rt *router.Router, connectors *connector.Cache, logger *slog.Logger) *Object {
	if logger == nil {
		logger = slog.Default()
	}
	return &Object{cfg: cfg, router: rt, connectors: connectors, logger: logger}
}

// Stats returns a point-in-time snapshot of the accept/active/error
// counters.
func (o *Object) Stats() Stats {
	return Stats{
		Accepted: atomic.LoadInt64(&o.stats.Accepted),
		Active:   atomic.LoadInt64(&o.stats.Active),
		Errors:   atomic.LoadInt64(&o.stats.Errors),
	}
}

// Run starts the listener's accept loop; it blocks until ctx is canceled
// or the listener fails to accept.
func (o *Object) Run(ctx context.Context) error {
	if o.cfg.Proto == ProtoGRPC {
		return o.runGRPC(ctx)
	}
	return o.runStream(ctx)
}

func (o *Object) runStream(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("object %s: listen %s: %w", o.cfg.Name, o.cfg.Endpoint, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("object %s: accept: %w", o.cfg.Name, err)
		}
		atomic.AddInt64(&o.stats.Accepted, 1)
		go o.handleStreamConn(ctx, conn)
	}
}

func (o *Object) handleStreamConn(ctx context.Context, conn net.Conn) {
	defer recovery.RecoverWithLog(o.logger, "object."+o.cfg.Name)
	atomic.AddInt64(&o.stats.Active, 1)
	defer atomic.AddInt64(&o.stats.Active, -1)

	s := streamio.NewTCPStream(conn, string(o.cfg.Proto))

	hs, err := o.handshake(s)
	if err != nil {
		o.logger.Debug("object: handshake failed", "listener", o.cfg.Name, "error", err)
		atomic.AddInt64(&o.stats.Errors, 1)
		_ = conn.Close()
		return
	}

	if hs.Target.UDP {
		o.runUDPAssociate(ctx, hs)
		return
	}

	o.runTCPFlow(ctx, hs)
}

func (o *Object) handshake(s streamio.Stream) (*ingress.Handshake, error) {
	switch o.cfg.Proto {
	case ProtoSOCKS5:
		inner, err := ingress.HandshakeSOCKS5(s)
		if err != nil {
			return nil, err
		}
		return &ingress.Handshake{
			Target:     inner.Addr,
			Stream:     s,
			ProtocolID: "socks5",
			Reply: func(failed bool, bindPort uint16) error {
				return ingress.SOCKS5Reply(s, failed, inner.Addr.UDP, bindPort)
			},
		}, nil
	case ProtoHTTP:
		inner, remainder, err := ingress.HandshakeHTTP(s, o.cfg.Name)
		if err != nil {
			return nil, err
		}
		return &ingress.Handshake{
			Target:       &addr.RunAddr{Host: inner.Host, Port: inner.Port},
			Stream:       remainder,
			ProtocolID:   "http",
			ForwardBytes: inner.Rewritten,
			Reply: func(failed bool, _ uint16) error {
				if failed && inner.IsConnect {
					return remainder.Close()
				}
				return nil
			},
		}, nil
	case ProtoHTSS5, ProtoAuto:
		return ingress.Detect(s, o.cfg.Name)
	default:
		return nil, fmt.Errorf("object %s: unsupported stream proto %q", o.cfg.Name, o.cfg.Proto)
	}
}

func (o *Object) runTCPFlow(ctx context.Context, hs *ingress.Handshake) {
	connName := o.router.Route(ctx, o.cfg.Name, hs.Target)
	conn, err := o.connectors.Get(connName)
	if err != nil {
		o.logger.Error("object: route-miss, no such connector", "listener", o.cfg.Name, "connector", connName, "error", err)
		atomic.AddInt64(&o.stats.Errors, 1)
		_ = hs.Reply(true, 0)
		_ = hs.Stream.Close()
		return
	}

	egress, err := conn.Connect(ctx, hs.Target)
	if err != nil {
		o.logger.Error("object: egress connect failed", "listener", o.cfg.Name, "connector", connName, "dst", hs.Target.String(), "error", err)
		atomic.AddInt64(&o.stats.Errors, 1)
		_ = hs.Reply(true, 0)
		_ = hs.Stream.Close()
		return
	}

	if err := hs.Reply(false, 0); err != nil {
		o.logger.Debug("object: post-handshake reply failed", "listener", o.cfg.Name, "error", err)
		_ = egress.Close()
		_ = hs.Stream.Close()
		return
	}

	opts := relay.Options{Carryover: hs.ForwardBytes}
	if err := relay.Run(ctx, hs.Stream, egress, opts); err != nil {
		o.logger.Debug("object: relay ended", "listener", o.cfg.Name, "dst", hs.Target.String(), "error", err)
	}
}

func (o *Object) runUDPAssociate(ctx context.Context, hs *ingress.Handshake) {
	r := &routerAdapter{router: o.router, connectors: o.connectors, listener: o.cfg.Name}
	opts := udpassoc.RunOptions{Control: hs.Stream, Router: r, Logger: o.logger}
	if err := udpassoc.Associate(ctx, opts); err != nil {
		o.logger.Debug("object: udp associate ended", "listener", o.cfg.Name, "error", err)
	}
}

// routerAdapter implements udpassoc.Router over the router/connector-cache
// pair, resolving a connector name via the router and then asking it to
// open a UDP tunnel.
type routerAdapter struct {
	router     *router.Router
	connectors *connector.Cache
	listener   string
}

func (a *routerAdapter) RouteUDP(ctx context.Context, dst *addr.RunAddr) (streamio.UDPReader, streamio.UDPWriter, error) {
	name := a.router.Route(ctx, a.listener, dst)
	conn, err := a.connectors.Get(name)
	if err != nil {
		return nil, nil, err
	}
	return conn.ConnectUDP(ctx, dst)
}
