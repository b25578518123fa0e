package ingress

import (
	"net"
	"testing"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
	"github.com/stretchr/testify/require"
)

func TestDetectDispatchesSOCKS5(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte{addr.Version5, 1, addr.MethodNoAuth})
		_, _ = client.Write([]byte{addr.Version5, addr.CmdConnect, 0x00, addr.ATypIPv4, 1, 1, 1, 1, 0x00, 0x35})
	}()
	go func() {
		buf := make([]byte, 2)
		_, _ = client.Read(buf)
	}()

	s := streamio.NewTCPStream(server, "tcp")
	hs, err := Detect(s, "srv")
	require.NoError(t, err)
	require.Equal(t, "socks5", hs.ProtocolID)
	require.Equal(t, "1.1.1.1", hs.Target.Host)
}

func TestDetectDispatchesHTTP(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\n\r\n"))
	}()
	go func() {
		buf := make([]byte, 64)
		_, _ = client.Read(buf)
	}()

	s := streamio.NewTCPStream(server, "tcp")
	hs, err := Detect(s, "srv")
	require.NoError(t, err)
	require.Equal(t, "http", hs.ProtocolID)
	require.Equal(t, "example.com", hs.Target.Host)
}
