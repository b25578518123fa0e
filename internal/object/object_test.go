package object

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rikaaa0928/rog/internal/connector"
	"github.com/rikaaa0928/rog/internal/match"
	"github.com/rikaaa0928/rog/internal/router"
	"github.com/stretchr/testify/require"
)

// helper upstream that echoes one line back for SOCKS5 relay verification.
func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestObjectSOCKS5ConnectAndRelay(t *testing.T) {
	upstream := startEchoServer(t)
	_, portStr, err := net.SplitHostPort(upstream)
	require.NoError(t, err)

	matchers := map[string]match.Matcher{"lan": match.NewLANMatcher()}
	rt := router.New("r1", "direct", nil, matchers, nil, nil)
	cache := connector.NewCache(map[string]func() (connector.Connector, error){
		"direct": func() (connector.Connector, error) { return connector.NewTCPConnector("direct"), nil },
	})

	obj := New(Config{Name: "l1", Endpoint: "127.0.0.1:0", Proto: ProtoSOCKS5, Router: "r1"}, rt, cache, nil)

	// Drive handleStreamConn directly over a net.Pipe so we don't depend on
	// Object.Run's own net.Listen binding inside this unit test.
	client, server := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go obj.handleStreamConn(ctx, server)

	// SOCKS5 no-auth negotiation
	_, err = client.Write([]byte{0x05, 0x01, 0x00})
	require.NoError(t, err)
	methodResp := make([]byte, 2)
	_, err = io.ReadFull(client, methodResp)
	require.NoError(t, err)
	require.Equal(t, []byte{0x05, 0x00}, methodResp)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	req := []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1, byte(port >> 8), byte(port)}
	_, err = client.Write(req)
	require.NoError(t, err)

	reply := make([]byte, 10)
	_, err = io.ReadFull(client, reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x00), reply[1], "connect should succeed")

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}
