package tunnelgrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashForTest(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// pipeFrameStream connects a client-side and server-side FrameStream pair
// entirely in-memory, standing in for the real gRPC transport in tests.
type pipeFrameStream struct {
	out chan *Frame
	in  chan *Frame
}

func newPipeFrameStreamPair() (client, server *pipeFrameStream) {
	c2s := make(chan *Frame, 16)
	s2c := make(chan *Frame, 16)
	return &pipeFrameStream{out: c2s, in: s2c}, &pipeFrameStream{out: s2c, in: c2s}
}

func (p *pipeFrameStream) Send(f *Frame) error {
	p.out <- f
	return nil
}

func (p *pipeFrameStream) Recv() (*Frame, error) {
	f, ok := <-p.in
	if !ok {
		return nil, errClosedPipe
	}
	return f, nil
}

var errClosedPipe = &pipeClosedError{}

type pipeClosedError struct{}

func (*pipeClosedError) Error() string { return "pipe closed" }

func TestStreamManagerConnectAndDataFlow(t *testing.T) {
	clientSide, serverSide := newPipeFrameStreamPair()

	listener := NewListener(hashForTest(t, "secret"), nil)
	go func() { _ = listener.Stream(serverSide) }()

	mgr := NewStreamManager(clientSide, "secret", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := mgr.Connect(ctx, "example.com", 80)
	require.NoError(t, err)

	var accepted *Accepted
	select {
	case accepted = <-listener.Accept():
	case <-ctx.Done():
		t.Fatal("listener never accepted the sub-stream")
	}
	require.Equal(t, "example.com", accepted.DstAddr)
	require.NotNil(t, accepted.TCP)

	_, err = sub.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := accepted.TCP.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	_, err = accepted.TCP.Write([]byte("pong"))
	require.NoError(t, err)
	n, err = sub.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))
}

func TestStreamManagerSrcIDConflictSurfacesAsError(t *testing.T) {
	clientSide, serverSide := newPipeFrameStreamPair()
	listener := NewListener(hashForTest(t, "secret"), nil)
	go func() { _ = listener.Stream(serverSide) }()

	mgr := NewStreamManager(clientSide, "secret", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := mgr.Connect(ctx, "a", 1)
	require.NoError(t, err)
	<-listener.Accept()

	// Re-sending HANDSHAKE_REQ under the src_id that is still live makes the
	// listener answer HANDSHAKE_CONFLICT_SRC_ID, which handshake() reports.
	_, err = mgr.handshake(ctx, sub.SrcID(), "a", 1, false)
	require.ErrorContains(t, err, "src_id conflict")
}
