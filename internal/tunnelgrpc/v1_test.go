package tunnelgrpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestListenerStreamV1TCPHandshakeAndDataFlow drives the v1 "Stream" RPC at
// the Frame level (DialV1 needs a real grpc.ClientConnInterface, so the
// client side here is hand-built the same way DialV1 builds its first
// frame) and checks the handshake, addressing, and bidirectional data flow.
func TestListenerStreamV1TCPHandshakeAndDataFlow(t *testing.T) {
	clientSide, serverSide := newPipeFrameStreamPair()

	listener := NewListener(hashForTest(t, "secret"), nil)
	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.StreamV1(serverSide) }()

	require.NoError(t, clientSide.Send(&Frame{
		Auth: "secret", Cmd: CmdHandshake, DstAddr: "example.com", DstPort: 80,
	}))
	resp, err := clientSide.Recv()
	require.NoError(t, err)
	require.Equal(t, CmdHandshake, resp.Cmd)

	accepted := <-listener.Accept()
	require.Equal(t, "example.com", accepted.DstAddr)
	require.NotNil(t, accepted.TCP)
	require.Nil(t, accepted.UDP)

	_, err = accepted.TCP.Write([]byte("pong"))
	require.NoError(t, err)
	relayed, err := clientSide.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), relayed.Payload)

	require.NoError(t, clientSide.Send(&Frame{Cmd: CmdData, Payload: []byte("ping")}))
	buf := make([]byte, 4)
	n, err := accepted.TCP.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestListenerStreamV1RejectsBadAuth(t *testing.T) {
	clientSide, serverSide := newPipeFrameStreamPair()

	listener := NewListener(hashForTest(t, "secret"), nil)
	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.StreamV1(serverSide) }()

	require.NoError(t, clientSide.Send(&Frame{
		Auth: "wrong", Cmd: CmdHandshake, DstAddr: "example.com", DstPort: 80,
	}))

	select {
	case err := <-serveErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StreamV1 did not reject bad auth")
	}
}

func TestListenerUDPV1RejectsNonUDPFrame(t *testing.T) {
	clientSide, serverSide := newPipeFrameStreamPair()

	listener := NewListener("", nil)
	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.UDPV1(serverSide) }()

	require.NoError(t, clientSide.Send(&Frame{Cmd: CmdHandshake, DstAddr: "8.8.8.8", DstPort: 53}))

	select {
	case err := <-serveErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("UDPV1 did not reject a non-UDP connect frame")
	}
}
