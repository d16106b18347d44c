package relay

import (
	"fmt"
	"net"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipproto"
)

// ConnectionID is the five-tuple identity of one virtual IP conversation:
// protocol, source IP, source port, rewritten destination IP, rewritten
// destination port. For ICMP echo, DstPort holds the echo identifier and
// SrcPort is unused (spec.md §3). It is immutable for the connection's
// lifetime and, being a plain comparable struct of fixed-size fields, is a
// valid map key with no allocation — a deliberate simplification of
// telepresenceio/telepresence's pkg/connpool.ConnID, which packs the same
// fields into a variable-length string to support both IPv4 and IPv6; this
// relay is IPv4-only (spec.md Non-goals), so the fixed-size form is both
// simpler and cheaper.
type ConnectionID struct {
	Protocol int
	SrcIP    [4]byte
	SrcPort  uint16
	DstIP    [4]byte
	DstPort  uint16
}

// NewUDPConnectionID builds the identity of a UDP flow.
func NewUDPConnectionID(src, dst [4]byte, srcPort, dstPort uint16) ConnectionID {
	return ConnectionID{Protocol: ipproto.UDP, SrcIP: src, SrcPort: srcPort, DstIP: dst, DstPort: dstPort}
}

// NewICMPConnectionID builds the identity of an ICMP echo flow. Ports are
// replaced by the echo identifier per spec.md §3; the router has no way
// (and no need) to distinguish ICMP flows by sequence number.
func NewICMPConnectionID(src, dst [4]byte, echoID uint16) ConnectionID {
	return ConnectionID{Protocol: ipproto.ICMP, SrcIP: src, DstIP: dst, DstPort: echoID}
}

// Reply returns a copy of id with source and destination swapped, the
// identity a reply packet travels under. Mirrors
// telepresenceio/telepresence's ConnID.Reply().
func (id ConnectionID) Reply() ConnectionID {
	id.SrcIP, id.DstIP = id.DstIP, id.SrcIP
	id.SrcPort, id.DstPort = id.DstPort, id.SrcPort
	return id
}

// String renders id as "proto src:port -> dst:port" for logging.
func (id ConnectionID) String() string {
	if id.Protocol == ipproto.ICMP {
		return fmt.Sprintf("icmp %s -> %s id=%d", net.IP(id.SrcIP[:]), net.IP(id.DstIP[:]), id.DstPort)
	}
	return fmt.Sprintf("%s %s:%d -> %s:%d", ipproto.Name(id.Protocol), net.IP(id.SrcIP[:]), id.SrcPort, net.IP(id.DstIP[:]), id.DstPort)
}
