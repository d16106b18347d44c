package ipv4

import (
	"encoding/binary"
	"fmt"

	xipv4 "golang.org/x/net/ipv4"
)

// ICMP types this relay understands, cross-checked against the constants
// golang.org/x/net/ipv4 exports for the same wire values rather than
// hand-rolled magic numbers. Anything else is rejected by ParseICMPEcho —
// per spec.md §9, other ICMP types are unsupported and the relay never
// attempts to interpret their bodies.
const (
	ICMPTypeEchoReply   = byte(xipv4.ICMPTypeEchoReply)
	ICMPTypeEchoRequest = byte(xipv4.ICMPTypeEcho)
)

// ICMPEchoHeaderLength is the fixed size of an ICMP echo request/reply
// header (type, code, checksum, identifier, sequence).
const ICMPEchoHeaderLength = 8

// ICMPEcho is a parsed ICMP echo request or reply header.
type ICMPEcho struct {
	Type byte
	ID   uint16
	Seq  uint16
}

// ParseICMPEcho parses b as an ICMP echo request or reply. It rejects any
// other ICMP type, since the relay's router identifies ICMP flows by
// (addresses, identifier) and has no notion of other ICMP semantics
// (spec.md §9).
func ParseICMPEcho(b []byte) (ICMPEcho, error) {
	if len(b) < ICMPEchoHeaderLength {
		return ICMPEcho{}, fmt.Errorf("ipv4: short ICMP header: %d bytes", len(b))
	}
	t := b[0]
	if t != ICMPTypeEchoRequest && t != ICMPTypeEchoReply {
		return ICMPEcho{}, fmt.Errorf("ipv4: unsupported ICMP type %d", t)
	}
	return ICMPEcho{
		Type: t,
		ID:   binary.BigEndian.Uint16(b[4:6]),
		Seq:  binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// Reply returns a copy of h with Type flipped to an echo reply. Identifier
// and sequence are preserved, since the host's reply must mirror them
// for the client to match it to its outstanding request.
func (h ICMPEcho) Reply() ICMPEcho {
	h.Type = ICMPTypeEchoReply
	return h
}

// MarshalMessage renders a complete ICMP message (header + payload) with
// its checksum computed over the whole message, per RFC 792.
func (h ICMPEcho) MarshalMessage(payload []byte) []byte {
	msg := make([]byte, ICMPEchoHeaderLength+len(payload))
	msg[0] = h.Type
	msg[1] = 0
	binary.BigEndian.PutUint16(msg[4:6], h.ID)
	binary.BigEndian.PutUint16(msg[6:8], h.Seq)
	copy(msg[8:], payload)
	binary.BigEndian.PutUint16(msg[2:4], checksum(msg))
	return msg
}
