package ingress

import (
	"fmt"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
)

// Handshake is the protocol-agnostic result of accepting one ingress
// connection: where it wants to go, whether it's a UDP ASSOCIATE, and
// enough per-protocol state (in Reply) to send the eventual success/failure
// response once the router and connector have done their work.
type Handshake struct {
	Target     *addr.RunAddr
	Stream     streamio.Stream
	ProtocolID string

	// Reply sends the post-handshake outcome back to the ingress client.
	// bindPort is only meaningful for SOCKS5 UDP ASSOCIATE. forwardBytes,
	// when non-nil, must be written to the egress stream verbatim before
	// the relay starts (the rewritten HTTP request line for forward-proxy
	// traffic); it is nil for CONNECT and SOCKS5.
	Reply        func(failed bool, bindPort uint16) error
	ForwardBytes []byte
}

// Detect peeks the first byte of s and dispatches to the SOCKS5 or HTTP
// handshake accordingly, mirroring the wire-level protocol sniff: SOCKS5
// connections always start with version byte 0x05.
func Detect(raw streamio.Stream, serverID string) (*Handshake, error) {
	buffered := streamio.NewBufferedStream(raw)
	first, err := buffered.Peek(1)
	if err != nil {
		return nil, fmt.Errorf("peek protocol byte: %w", err)
	}

	if len(first) == 1 && first[0] == addr.Version5 {
		return handshakeSOCKS5Adapted(buffered)
	}
	return handshakeHTTPAdapted(buffered, serverID)
}

func handshakeSOCKS5Adapted(s streamio.Stream) (*Handshake, error) {
	hs, err := HandshakeSOCKS5(s)
	if err != nil {
		return nil, err
	}
	return &Handshake{
		Target:     hs.Addr,
		Stream:     s,
		ProtocolID: "socks5",
		Reply: func(failed bool, bindPort uint16) error {
			return SOCKS5Reply(s, failed, hs.Addr.UDP, bindPort)
		},
	}, nil
}

func handshakeHTTPAdapted(s streamio.Stream, serverID string) (*Handshake, error) {
	hs, remainder, err := HandshakeHTTP(s, serverID)
	if err != nil {
		return nil, err
	}
	return &Handshake{
		Target:       &addr.RunAddr{Host: hs.Host, Port: hs.Port},
		Stream:       remainder,
		ProtocolID:   "http",
		ForwardBytes: hs.Rewritten,
		Reply: func(failed bool, _ uint16) error {
			// CONNECT already sent its 200 reply during the handshake, so a
			// failed CONNECT closes the stream here. A forward-proxy request
			// has had no reply yet; its failure returns nil and the caller
			// closes the stream.
			if failed && hs.IsConnect {
				return remainder.Close()
			}
			return nil
		},
	}, nil
}
