// Package ipv4 parses and builds IPv4 headers and the two transport
// headers this relay cares about (UDP, ICMP echo). It plays the role the
// spec calls out as the external `Ipv4Packet`/`Ipv4Header`/`TransportHeader`
// collaborator; the core (pkg/relay) only ever consumes the types defined
// here, never raw byte offsets.
//
// IPv6 and IPv4 options are out of scope (spec.md Non-goals / §9): every
// header here is the fixed 20-byte form with IHL==5.
package ipv4

import (
	"encoding/binary"
	"fmt"
	"net"
)

// HeaderLength is the size of an IPv4 header with no options.
const HeaderLength = 20

// MaxPacketLength bounds a single synthesized or accepted IPv4 packet. It
// doubles as the spec's MAX_PACKET_LENGTH buffer-sizing constant.
const MaxPacketLength = 1500

// Header is a parsed IPv4 header, address fields normalized to 4 bytes.
type Header struct {
	TOS         byte
	ID          uint16
	DontFrag    bool
	TotalLength uint16
	TTL         byte
	Protocol    int
	Src         [4]byte
	Dst         [4]byte
}

// ParseHeader parses the first HeaderLength bytes of b as an IPv4 header
// with no options. It does not validate the header checksum.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("ipv4: short header: %d bytes", len(b))
	}
	if b[0]>>4 != 4 {
		return Header{}, fmt.Errorf("ipv4: unsupported version %d", b[0]>>4)
	}
	ihl := int(b[0]&0x0F) * 4
	if ihl != HeaderLength {
		return Header{}, fmt.Errorf("ipv4: unsupported IHL %d (options unsupported)", ihl)
	}
	var h Header
	h.TOS = b[1]
	h.TotalLength = binary.BigEndian.Uint16(b[2:4])
	h.ID = binary.BigEndian.Uint16(b[4:6])
	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	h.DontFrag = flagsFrag&0x4000 != 0
	h.TTL = b[8]
	h.Protocol = int(b[9])
	copy(h.Src[:], b[12:16])
	copy(h.Dst[:], b[16:20])
	return h, nil
}

// Marshal renders h as a 20-byte IPv4 header with a freshly computed
// checksum. payloadLength is the length of whatever follows the header
// (transport header + data); TotalLength is derived from it rather than
// trusted from h, since callers always know the true length of what they
// are about to write.
func (h Header) Marshal(payloadLength int) [HeaderLength]byte {
	var b [HeaderLength]byte
	b[0] = 0x45 // version 4, IHL 5 (no options)
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], uint16(HeaderLength+payloadLength))
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	if h.DontFrag {
		binary.BigEndian.PutUint16(b[6:8], 0x4000)
	}
	b[8] = h.TTL
	b[9] = byte(h.Protocol)
	copy(b[12:16], h.Src[:])
	copy(b[16:20], h.Dst[:])
	binary.BigEndian.PutUint16(b[10:12], checksum(b[:]))
	return b
}

// Swapped returns a copy of h with Src and Dst exchanged, used to turn a
// client-to-network header template into a network-to-client reply
// template (spec.md §3, Packetizer).
func (h Header) Swapped() Header {
	h.Src, h.Dst = h.Dst, h.Src
	return h
}

// SrcIP and DstIP expose the address fields as net.IP for logging and for
// constructing net.Addr values.
func (h Header) SrcIP() net.IP { return net.IP(h.Src[:]) }
func (h Header) DstIP() net.IP { return net.IP(h.Dst[:]) }
