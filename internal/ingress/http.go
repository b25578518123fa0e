// Package ingress implements the ingress acceptors: HTTP CONNECT/forward
// proxy, SOCKS5, and the auto-detecting "htss5" acceptor that dispatches to
// one of the other two after peeking the first byte.
package ingress

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/rikaaa0928/rog/internal/streamio"
)

// ErrLoopDetected is returned when an inbound HTTP request already carries
// this server's id in a Via header.
var ErrLoopDetected = errors.New("loop detected")

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// HTTPHandshake is the outcome of parsing the first HTTP request line (and,
// for forward-proxy methods, its headers) off a Stream.
type HTTPHandshake struct {
	Host      string
	Port      uint16
	IsConnect bool
	// Rewritten carries the exact bytes to replay to the egress side: nil
	// for CONNECT (nothing is replayed, the tunnel carries raw bytes from
	// here on), or the original request line+headers with Via: injected
	// for forward-proxy methods.
	Rewritten []byte
}

// HandshakeHTTP reads one HTTP request off s, extracts the target host and
// port, and for CONNECT writes the 200 Connection Established reply. For
// all other methods it rewrites the request to carry a Via header and
// returns the rewritten bytes for replay against the egress stream; a
// request that already names serverID in an existing Via header fails with
// ErrLoopDetected. The returned Stream wraps any bytes the header parser
// buffered but did not consume (pipelined traffic immediately following the
// request), so the caller never loses data by reading raw br-internal state.
func HandshakeHTTP(s streamio.Stream, serverID string) (*HTTPHandshake, streamio.Stream, error) {
	br := bufio.NewReader(s)
	tp := textproto.NewReader(br)
	remainder := streamio.NewBufferedStreamFromReader(s, br)

	requestLine, err := tp.ReadLine()
	if err != nil {
		return nil, nil, fmt.Errorf("read request line: %w", err)
	}

	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) < 2 {
		return nil, nil, fmt.Errorf("malformed request line %q", requestLine)
	}
	method, target := parts[0], parts[1]

	if strings.EqualFold(method, "CONNECT") {
		host, port, err := splitHostPort(target, 443)
		if err != nil {
			return nil, nil, err
		}
		// Drain the remaining headers without acting on them.
		_, _ = tp.ReadMIMEHeader()
		if _, err := s.Write([]byte(connectEstablished)); err != nil {
			return nil, nil, fmt.Errorf("write connect reply: %w", err)
		}
		return &HTTPHandshake{Host: host, Port: port, IsConnect: true}, remainder, nil
	}

	host, port, err := hostPortFromRequestTarget(target)
	if err != nil {
		return nil, nil, err
	}

	headerLines, header, err := readOrderedHeaders(tp)
	if err != nil && len(header) == 0 {
		return nil, nil, fmt.Errorf("read headers: %w", err)
	}

	for _, via := range header.Values("Via") {
		if strings.Contains(via, serverID) {
			return nil, nil, ErrLoopDetected
		}
	}

	rewritten := rewriteWithVia(requestLine, headerLines, serverID)
	return &HTTPHandshake{Host: host, Port: port, Rewritten: rewritten}, remainder, nil
}

// headerLine is one header as it appeared on the wire, in original case and
// order; folded continuation lines are merged into the prior value.
type headerLine struct {
	key   string
	value string
}

// readOrderedHeaders reads the MIME header block off tp the same way
// textproto.Reader.ReadMIMEHeader does, but also returns the headers as an
// ordered list so a caller can reproduce the original byte order instead of
// ranging over a map.
func readOrderedHeaders(tp *textproto.Reader) ([]headerLine, textproto.MIMEHeader, error) {
	var lines []headerLine
	mh := make(textproto.MIMEHeader)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return lines, mh, err
		}
		if line == "" {
			return lines, mh, nil
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			folded := strings.TrimSpace(line)
			lines[len(lines)-1].value += " " + folded
			canon := textproto.CanonicalMIMEHeaderKey(lines[len(lines)-1].key)
			if vals := mh[canon]; len(vals) > 0 {
				vals[len(vals)-1] += " " + folded
			}
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		lines = append(lines, headerLine{key: key, value: value})
		canon := textproto.CanonicalMIMEHeaderKey(key)
		mh[canon] = append(mh[canon], value)
	}
}

// rewriteWithVia reproduces the original request line and header block
// verbatim (in their original order) except for inserting
// Via: 1.1 <serverID> immediately after the request line, matching the exact
// wire format the egress side expects.
func rewriteWithVia(requestLine string, header []headerLine, serverID string) []byte {
	var buf bytes.Buffer
	buf.WriteString(requestLine)
	buf.WriteString("\r\n")
	buf.WriteString("Via: 1.1 " + serverID + "\r\n")
	for _, h := range header {
		buf.WriteString(h.key)
		buf.WriteString(": ")
		buf.WriteString(h.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// hostPortFromRequestTarget extracts host/port from a forward-proxy
// request target, which is an absolute URI (GET http://host/path HTTP/1.1).
func hostPortFromRequestTarget(target string) (string, uint16, error) {
	rest := target
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	return splitHostPort(rest, 80)
}

func splitHostPort(hostport string, defaultPort uint16) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", hostport, err)
	}
	return host, uint16(port), nil
}
