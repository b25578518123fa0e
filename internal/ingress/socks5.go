package ingress

import (
	"fmt"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

// SOCKS5Handshake is the outcome of a SOCKS5 greeting + request exchange.
type SOCKS5Handshake struct {
	Addr *addr.RunAddr
	Req  *addr.Request
}

// HandshakeSOCKS5 performs the SOCKS5 method negotiation (no-auth only) and
// reads the REQUEST, without yet sending the final reply — that happens
// once the caller knows whether the dial/route succeeded, via SOCKS5Reply.
func HandshakeSOCKS5(s streamio.Stream) (*SOCKS5Handshake, error) {
	hello, err := addr.ClientHelloParse(s)
	if err != nil {
		return nil, fmt.Errorf("client hello: %w", err)
	}

	accepted := false
	for _, m := range hello.Methods {
		if m == addr.MethodNoAuth {
			accepted = true
			break
		}
	}
	method := addr.MethodNoAcceptable
	if accepted {
		method = addr.MethodNoAuth
	}
	if _, err := s.Write(addr.ServerHelloBytes(addr.Version5, method)); err != nil {
		return nil, fmt.Errorf("write server hello: %w", err)
	}
	if !accepted {
		return nil, fmt.Errorf("no acceptable auth method offered")
	}

	req, err := addr.RequestParse(s)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	ra, err := req.RunAddr()
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	return &SOCKS5Handshake{Addr: ra, Req: req}, nil
}

// SOCKS5Reply sends the final SOCKS5 reply once the egress side has been
// established (or has failed): failed selects ReplyServerFailure, udp
// distinguishes the UDP ASSOCIATE reply (carrying bindPort), and bindPort is
// ignored for plain CONNECT success replies.
func SOCKS5Reply(s streamio.Stream, failed, udp bool, bindPort uint16) error {
	_, err := s.Write(addr.ReplyBytes(failed, udp, bindPort))
	return err
}
