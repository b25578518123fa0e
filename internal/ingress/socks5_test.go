package ingress

import (
	"net"
	"testing"

	"github.com/rikaaa0928/rog/internal/addr"
	"github.com/rikaaa0928/rog/internal/streamio"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSOCKS5Connect(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte{addr.Version5, 1, addr.MethodNoAuth})
		_, _ = client.Write([]byte{addr.Version5, addr.CmdConnect, 0x00, addr.ATypIPv4, 93, 184, 216, 34, 0x00, 0x50})
	}()

	s := streamio.NewTCPStream(server, "tcp")
	hsCh := make(chan *SOCKS5Handshake, 1)
	go func() {
		hs, err := HandshakeSOCKS5(s)
		require.NoError(t, err)
		hsCh <- hs
	}()

	reply := make([]byte, 2)
	_, err := client.Read(reply)
	require.NoError(t, err)
	require.Equal(t, []byte{addr.Version5, addr.MethodNoAuth}, reply)

	hs := <-hsCh
	require.Equal(t, "93.184.216.34", hs.Addr.Host)
	require.Equal(t, uint16(80), hs.Addr.Port)
	require.False(t, hs.Addr.UDP)
}

func TestSOCKS5ReplyShape(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := streamio.NewTCPStream(server, "tcp")
	go func() { _ = SOCKS5Reply(s, false, true, 9090) }()

	buf := make([]byte, 10)
	_, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, byte(addr.ReplySucceeded), buf[1])
	require.Equal(t, uint16(9090), uint16(buf[8])<<8|uint16(buf[9]))
}
