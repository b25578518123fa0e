package addr

import (
	"encoding/binary"
	"net"
)

// UDPMeta describes the endpoints of a single datagram.
type UDPMeta struct {
	DstHost string
	DstPort uint16
	SrcHost string
	SrcPort uint16
}

// UDPPacket is one datagram with its routing metadata, as described in
// spec.md §3.
type UDPPacket struct {
	Meta UDPMeta
	Data []byte
}

// Empty reports whether the packet carries no payload; an empty packet
// is produced for a fragmented datagram, one shorter than 4 bytes, or one
// with no data, and must be dropped by the caller rather than forwarded.
// A malformed address is reported by ParseUDP as ErrInvalidData instead.
func (p *UDPPacket) Empty() bool {
	return len(p.Data) == 0
}

// ParseUDP decodes a raw SOCKS5 UDP datagram received from peer.
//
// Wire format: RSV(2)=0 FRAG(1) ATYP(1) ADDR PORT(2) DATA. A non-zero FRAG
// yields an empty packet so the caller drops it instead of forwarding a
// fragment rog does not support reassembling.
func ParseUDP(buf []byte, peer *net.UDPAddr) (*UDPPacket, error) {
	if len(buf) < 4 {
		return &UDPPacket{}, nil
	}
	frag := buf[2]
	if frag != 0 {
		return &UDPPacket{}, nil
	}
	aTyp := buf[3]

	var start int
	var host string
	switch aTyp {
	case ATypIPv4:
		start = 4
		if len(buf) < start+4+2 {
			return nil, ErrInvalidData
		}
		host = net.IP(buf[start : start+4]).String()
		start += 4
	case ATypIPv6:
		start = 4
		if len(buf) < start+16+2 {
			return nil, ErrInvalidData
		}
		host = net.IP(buf[start : start+16]).String()
		start += 16
	case ATypDomain:
		if len(buf) < 5 {
			return nil, ErrInvalidData
		}
		domainLen := int(buf[4])
		start = 5
		if len(buf) < start+domainLen+2 {
			return nil, ErrInvalidData
		}
		if !isValidUTF8(buf[start : start+domainLen]) {
			return nil, ErrInvalidData
		}
		host = string(buf[start : start+domainLen])
		start += domainLen
	default:
		return nil, ErrInvalidData
	}

	port := binary.BigEndian.Uint16(buf[start : start+2])
	data := make([]byte, len(buf)-start-2)
	copy(data, buf[start+2:])

	meta := UDPMeta{DstHost: host, DstPort: port}
	if peer != nil {
		meta.SrcHost = peer.IP.String()
		meta.SrcPort = uint16(peer.Port)
	}
	return &UDPPacket{Meta: meta, Data: data}, nil
}

// ReplyBytesUDP serializes the packet back into a SOCKS5 UDP datagram, the
// form delivered to the original client. Per spec.md §3 an unspecified
// 0.0.0.0 source is rewritten to 127.0.0.1 so loopback clients can reach it.
// Returns the payload bytes plus the string form of the source/destination
// endpoints for logging.
func (p *UDPPacket) ReplyBytesUDP() (payload []byte, srcEndpoint, dstEndpoint string) {
	// Wire header is the fixed form RSV(2)=0 FRAG(1)=0 ATYP(1)=IPv4
	// ADDR(4)=0.0.0.0 PORT(2) — the replying packet does not need to carry
	// a real bound address, only the port the client dialed out on.
	hdr := make([]byte, 10, 10+len(p.Data))
	hdr[3] = ATypIPv4
	binary.BigEndian.PutUint16(hdr[8:10], p.Meta.DstPort)
	hdr = append(hdr, p.Data...)

	srcHost := p.Meta.SrcHost
	if ip := net.ParseIP(srcHost); ip != nil && ip.IsUnspecified() {
		srcHost = "127.0.0.1"
	}

	srcEndpoint = net.JoinHostPort(srcHost, itoa(p.Meta.SrcPort))
	dstEndpoint = net.JoinHostPort(p.Meta.DstHost, itoa(p.Meta.DstPort))
	return hdr, srcEndpoint, dstEndpoint
}

func itoa(port uint16) string {
	return formatUint(uint64(port))
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
