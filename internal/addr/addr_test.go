package addr

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientHelloRoundTrip(t *testing.T) {
	hello := ClientHello{Version: Version5, Methods: []byte{MethodNoAuth, 0x02}}
	buf := append([]byte{hello.Version, byte(len(hello.Methods))}, hello.Methods...)

	parsed, err := ClientHelloParse(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, hello.Methods, parsed.Methods)

	reply := ServerHelloBytes(Version5, MethodNoAuth)
	require.Equal(t, []byte{Version5, MethodNoAuth}, reply)
}

func TestClientHelloRejectsBadVersion(t *testing.T) {
	_, err := ClientHelloParse(bytes.NewReader([]byte{0x04, 0x00}))
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestRequestParseIPv4Connect(t *testing.T) {
	buf := []byte{Version5, CmdConnect, 0x00, ATypIPv4, 127, 0, 0, 1, 0x00, 0x50}
	req, err := RequestParse(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, uint8(CmdConnect), req.Cmd)

	ra, err := req.RunAddr()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", ra.Host)
	require.Equal(t, uint16(80), ra.Port)
	require.False(t, ra.UDP)
}

func TestRequestParseDomainUDPAssociate(t *testing.T) {
	domain := "example.com"
	buf := append([]byte{Version5, CmdUDPAssociate, 0x00, ATypDomain, byte(len(domain))}, domain...)
	buf = append(buf, 0x01, 0xBB)

	req, err := RequestParse(bytes.NewReader(buf))
	require.NoError(t, err)

	ra, err := req.RunAddr()
	require.NoError(t, err)
	require.Equal(t, domain, ra.Host)
	require.Equal(t, uint16(443), ra.Port)
	require.True(t, ra.UDP)
}

func TestRequestParseRejectsUnsupportedCommand(t *testing.T) {
	buf := []byte{Version5, 0x02, 0x00, ATypIPv4, 127, 0, 0, 1, 0, 80}
	_, err := RequestParse(bytes.NewReader(buf))
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestReplyBytesShape(t *testing.T) {
	success := ReplyBytes(false, false, 0)
	require.Len(t, success, 10)
	require.Equal(t, byte(ReplySucceeded), success[1])
	require.Equal(t, uint16(0xFFFF), be16(success[8:10]))

	udpReply := ReplyBytes(false, true, 4242)
	require.Equal(t, uint16(4242), be16(udpReply[8:10]))

	failure := ReplyBytes(true, false, 0)
	require.Equal(t, byte(ReplyServerFailure), failure[1])
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func TestRunAddrString(t *testing.T) {
	ra := &RunAddr{Host: "10.0.0.1", Port: 22}
	require.Equal(t, net.JoinHostPort("10.0.0.1", "22"), ra.String())
}
