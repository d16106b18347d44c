package ipv4

import (
	"encoding/binary"
	"fmt"
)

// UDPHeaderLength is the fixed size of a UDP header.
const UDPHeaderLength = 8

// UDPHeader is a parsed UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
}

// ParseUDPHeader parses the first UDPHeaderLength bytes of b.
func ParseUDPHeader(b []byte) (UDPHeader, error) {
	if len(b) < UDPHeaderLength {
		return UDPHeader{}, fmt.Errorf("ipv4: short UDP header: %d bytes", len(b))
	}
	return UDPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// Swapped returns a copy of h with SrcPort and DstPort exchanged.
func (h UDPHeader) Swapped() UDPHeader {
	h.SrcPort, h.DstPort = h.DstPort, h.SrcPort
	return h
}

// MarshalSegment renders a complete UDP segment (header + payload) with the
// checksum computed over the IPv4 pseudo-header, per RFC 768. ipHdr must be
// the IPv4 header this segment will travel in (already reflecting the
// intended Src/Dst), since the checksum covers those addresses.
func (h UDPHeader) MarshalSegment(ipHdr Header, payload []byte) []byte {
	segment := make([]byte, UDPHeaderLength+len(payload))
	binary.BigEndian.PutUint16(segment[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(segment[2:4], h.DstPort)
	binary.BigEndian.PutUint16(segment[4:6], uint16(len(segment)))
	copy(segment[8:], payload)
	binary.BigEndian.PutUint16(segment[6:8], checksumWithPseudoHeader(ipHdr.Src, ipHdr.Dst, 17, segment))
	return segment
}
