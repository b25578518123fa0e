package ingress

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/rikaaa0928/rog/internal/streamio"
	"github.com/stretchr/testify/require"
)

func TestHandshakeHTTPConnect(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("CONNECT a.b.example:443 HTTP/1.1\r\nHost: a.b.example:443\r\n\r\n"))
	}()

	s := streamio.NewTCPStream(server, "tcp")
	resultCh := make(chan *HTTPHandshake, 1)
	errCh := make(chan error, 1)
	go func() {
		hs, _, err := HandshakeHTTP(s, "srv-1")
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- hs
	}()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 Connection Established\r\n", line)

	select {
	case hs := <-resultCh:
		require.Equal(t, "a.b.example", hs.Host)
		require.Equal(t, uint16(443), hs.Port)
		require.True(t, hs.IsConnect)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandshakeHTTPForwardInjectsVia(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("GET http://h/ HTTP/1.1\r\nHost: h\r\n\r\n"))
	}()

	s := streamio.NewTCPStream(server, "tcp")
	hs, _, err := HandshakeHTTP(s, "server-xyz")
	require.NoError(t, err)
	require.Equal(t, "h", hs.Host)
	require.Equal(t, uint16(80), hs.Port)
	require.Contains(t, string(hs.Rewritten), "Via: 1.1 server-xyz\r\n")
	require.Contains(t, string(hs.Rewritten), "Host: h\r\n")
}

func TestHandshakeHTTPForwardPreservesHeaderOrder(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte(
			"GET http://h/ HTTP/1.1\r\n" +
				"Host: h\r\n" +
				"User-Agent: test-agent\r\n" +
				"Accept: */*\r\n" +
				"X-Custom: one\r\n" +
				"X-Custom: two\r\n" +
				"\r\n"))
	}()

	s := streamio.NewTCPStream(server, "tcp")
	hs, _, err := HandshakeHTTP(s, "server-xyz")
	require.NoError(t, err)

	rewritten := string(hs.Rewritten)
	hostIdx := strings.Index(rewritten, "Host: h")
	uaIdx := strings.Index(rewritten, "User-Agent: test-agent")
	acceptIdx := strings.Index(rewritten, "Accept: */*")
	firstCustomIdx := strings.Index(rewritten, "X-Custom: one")
	secondCustomIdx := strings.Index(rewritten, "X-Custom: two")

	require.True(t, hostIdx < uaIdx, "Host must precede User-Agent")
	require.True(t, uaIdx < acceptIdx, "User-Agent must precede Accept")
	require.True(t, acceptIdx < firstCustomIdx, "Accept must precede X-Custom")
	require.True(t, firstCustomIdx < secondCustomIdx, "repeated X-Custom values must keep their order")
}

func TestHandshakeHTTPLoopDetected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("GET / HTTP/1.1\r\nVia: 1.1 server-xyz\r\n\r\n"))
	}()

	s := streamio.NewTCPStream(server, "tcp")
	_, _, err := HandshakeHTTP(s, "server-xyz")
	require.ErrorIs(t, err, ErrLoopDetected)
}
