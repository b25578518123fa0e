// Package tunnelgrpc implements the multiplexed gRPC tunnel: many logical
// sub-streams (TCP or UDP) riding one bidirectional gRPC stream per
// upstream, distinguished by a UUID src_id. Because the generated wire
// stubs for this service are out of scope, the messages below are hand
// written and carried over a real google.golang.org/grpc connection via a
// custom Codec (codec.go) instead of protoc-gen-go output.
package tunnelgrpc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command codes for a StreamReq/StreamRes frame.
const (
	CmdData                 uint8 = 0
	CmdHandshake             uint8 = 1 // HANDSHAKE_REQ on request, HANDSHAKE_DONE on response
	CmdHandshakeConflictSrc  uint8 = 2
	CmdCloseSrcID            uint8 = 3
)

// ErrMalformed is returned when a wire frame fails to decode.
var ErrMalformed = errors.New("tunnelgrpc: malformed frame")

// Frame is the single message type exchanged in both directions of the
// tunnel's bidi stream (StreamReq from connector to listener, StreamRes the
// other way); the wire shape is identical, only usage differs.
type Frame struct {
	Auth     string
	Payload  []byte
	DstAddr  string
	DstPort  uint16
	SrcAddr  string
	SrcPort  uint16
	UDP      bool
	Cmd      uint8
	SrcID    string // UUID string form
	Addons   map[string]string
}

// Encode serializes f using a flat length-prefixed binary layout: each
// string is a uint16 length followed by its bytes, Addons is a uint16 count
// of key/value string pairs, fixed fields are written in declaration order.
func (f *Frame) Encode() []byte {
	size := 0
	size += strSize(f.Auth)
	size += 4 + len(f.Payload)
	size += strSize(f.DstAddr)
	size += 2
	size += strSize(f.SrcAddr)
	size += 2
	size += 1 // udp
	size += 1 // cmd
	size += strSize(f.SrcID)
	size += 2 // addon count
	for k, v := range f.Addons {
		size += strSize(k) + strSize(v)
	}

	buf := make([]byte, size)
	off := 0
	off = putStr(buf, off, f.Auth)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(f.Payload)))
	off += 4
	off += copy(buf[off:], f.Payload)
	off = putStr(buf, off, f.DstAddr)
	binary.BigEndian.PutUint16(buf[off:], f.DstPort)
	off += 2
	off = putStr(buf, off, f.SrcAddr)
	binary.BigEndian.PutUint16(buf[off:], f.SrcPort)
	off += 2
	if f.UDP {
		buf[off] = 1
	}
	off++
	buf[off] = f.Cmd
	off++
	off = putStr(buf, off, f.SrcID)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(f.Addons)))
	off += 2
	for k, v := range f.Addons {
		off = putStr(buf, off, k)
		off = putStr(buf, off, v)
	}
	return buf
}

// Decode parses a Frame out of buf, as produced by Encode.
func Decode(buf []byte) (*Frame, error) {
	f := &Frame{}
	off := 0
	var err error

	f.Auth, off, err = getStr(buf, off)
	if err != nil {
		return nil, err
	}
	if off+4 > len(buf) {
		return nil, ErrMalformed
	}
	plen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if off+plen > len(buf) {
		return nil, ErrMalformed
	}
	f.Payload = append([]byte(nil), buf[off:off+plen]...)
	off += plen

	f.DstAddr, off, err = getStr(buf, off)
	if err != nil {
		return nil, err
	}
	if off+2 > len(buf) {
		return nil, ErrMalformed
	}
	f.DstPort = binary.BigEndian.Uint16(buf[off:])
	off += 2

	f.SrcAddr, off, err = getStr(buf, off)
	if err != nil {
		return nil, err
	}
	if off+2 > len(buf) {
		return nil, ErrMalformed
	}
	f.SrcPort = binary.BigEndian.Uint16(buf[off:])
	off += 2

	if off+2 > len(buf) {
		return nil, ErrMalformed
	}
	f.UDP = buf[off] == 1
	off++
	f.Cmd = buf[off]
	off++

	f.SrcID, off, err = getStr(buf, off)
	if err != nil {
		return nil, err
	}

	if off+2 > len(buf) {
		return nil, ErrMalformed
	}
	count := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if count > 0 {
		f.Addons = make(map[string]string, count)
	}
	for i := 0; i < count; i++ {
		var k, v string
		k, off, err = getStr(buf, off)
		if err != nil {
			return nil, err
		}
		v, off, err = getStr(buf, off)
		if err != nil {
			return nil, err
		}
		f.Addons[k] = v
	}

	return f, nil
}

func strSize(s string) int { return 2 + len(s) }

func putStr(buf []byte, off int, s string) int {
	binary.BigEndian.PutUint16(buf[off:], uint16(len(s)))
	off += 2
	off += copy(buf[off:], s)
	return off
}

func getStr(buf []byte, off int) (string, int, error) {
	if off+2 > len(buf) {
		return "", off, fmt.Errorf("%w: truncated string length", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if off+n > len(buf) {
		return "", off, fmt.Errorf("%w: truncated string body", ErrMalformed)
	}
	return string(buf[off : off+n]), off + n, nil
}
