package tunnelgrpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := &Frame{
		Auth:    "secret",
		Payload: []byte("hello"),
		DstAddr: "example.com",
		DstPort: 443,
		SrcAddr: "10.0.0.1",
		SrcPort: 5555,
		UDP:     true,
		Cmd:     CmdData,
		SrcID:   "abc-123",
		Addons:  map[string]string{"k": "v"},
	}

	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	require.Equal(t, f, decoded)
}

func TestFrameEncodeDecodeEmptyFields(t *testing.T) {
	f := &Frame{Cmd: CmdHandshake, SrcID: "x"}
	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	require.Equal(t, "", decoded.Auth)
	require.Equal(t, "x", decoded.SrcID)
	require.Nil(t, decoded.Addons)
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x05, 'h', 'e'})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFrameCodecRoundTrip(t *testing.T) {
	c := frameCodec{}
	f := &Frame{Cmd: CmdData, SrcID: "s1", Payload: []byte("x")}

	data, err := c.Marshal(f)
	require.NoError(t, err)

	out := new(Frame)
	require.NoError(t, c.Unmarshal(data, out))
	require.Equal(t, f, out)
}
