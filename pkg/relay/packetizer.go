package relay

import (
	"errors"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipv4"
)

// Reader is the minimal source a Packetizer reads from: a non-blocking,
// connected datagram socket. Implementations must return ErrWouldBlock
// when no data is currently available.
type Reader interface {
	Read(b []byte) (int, error)
}

// maxUDPPayload and maxICMPPayload bound how much of ipv4.MaxPacketLength
// a single read may consume, leaving room for the headers Packetize
// prepends.
const (
	maxUDPPayload  = ipv4.MaxPacketLength - ipv4.HeaderLength - ipv4.UDPHeaderLength
	maxICMPPayload = ipv4.MaxPacketLength - ipv4.HeaderLength - ipv4.ICMPEchoHeaderLength
)

// Packetizer synthesizes return IPv4 packets from payload bytes read off a
// HostSocket plus the IPv4+transport header templates captured from the
// first client packet of the flow (spec.md §4.3). It is logically
// single-use-per-read: the slice Packetize returns aliases an internal
// scratch buffer and is only valid until the next call.
type Packetizer interface {
	// Packetize reads at most maxLen bytes of payload (0 means "as much
	// as fits in one packet") and returns a complete, checksummed
	// synthetic IPv4 packet. It returns (nil, nil) on EOF — the reader
	// yielded zero bytes — and propagates ErrWouldBlock unchanged.
	Packetize(r Reader, maxLen int) ([]byte, error)
}

// UDPPacketizer builds reply-direction UDP/IPv4 packets.
type UDPPacketizer struct {
	ipTemplate  ipv4.Header
	udpTemplate ipv4.UDPHeader
	readBuf     [maxUDPPayload]byte
	scratch     [ipv4.MaxPacketLength]byte
}

// NewUDPPacketizer captures the reply-direction templates from the
// client's original (request-direction) headers.
func NewUDPPacketizer(ipHdr ipv4.Header, udpHdr ipv4.UDPHeader) *UDPPacketizer {
	return &UDPPacketizer{ipTemplate: ipHdr.Swapped(), udpTemplate: udpHdr.Swapped()}
}

func (p *UDPPacketizer) Packetize(r Reader, maxLen int) ([]byte, error) {
	if maxLen <= 0 || maxLen > len(p.readBuf) {
		maxLen = len(p.readBuf)
	}
	n, err := r.Read(p.readBuf[:maxLen])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	segment := p.udpTemplate.MarshalSegment(p.ipTemplate, p.readBuf[:n])
	ipHdrBytes := p.ipTemplate.Marshal(len(segment))
	total := copy(p.scratch[:], ipHdrBytes[:])
	total += copy(p.scratch[total:], segment)
	return p.scratch[:total], nil
}

// ICMPPacketizer builds reply-direction ICMP echo/IPv4 packets.
type ICMPPacketizer struct {
	ipTemplate   ipv4.Header
	icmpTemplate ipv4.ICMPEcho
	readBuf      [maxICMPPayload]byte
	scratch      [ipv4.MaxPacketLength]byte
}

// NewICMPPacketizer captures the reply-direction templates from the
// client's original echo request.
func NewICMPPacketizer(ipHdr ipv4.Header, echo ipv4.ICMPEcho) *ICMPPacketizer {
	return &ICMPPacketizer{ipTemplate: ipHdr.Swapped(), icmpTemplate: echo.Reply()}
}

func (p *ICMPPacketizer) Packetize(r Reader, maxLen int) ([]byte, error) {
	if maxLen <= 0 || maxLen > len(p.readBuf) {
		maxLen = len(p.readBuf)
	}
	n, err := r.Read(p.readBuf[:maxLen])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	msg := p.icmpTemplate.MarshalMessage(p.readBuf[:n])
	ipHdrBytes := p.ipTemplate.Marshal(len(msg))
	total := copy(p.scratch[:], ipHdrBytes[:])
	total += copy(p.scratch[total:], msg)
	return p.scratch[:total], nil
}
