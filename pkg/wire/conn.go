// Package wire is the concrete frontend the relay's Connection objects
// are attached to: a length-framed byte stream carrying whole IPv4
// packets in each direction, a Router table keyed by ConnectionID, and a
// Client that demuxes inbound frames to the right Connection and
// serializes outbound ones back onto the stream. It is the stand-in for
// the spec's out-of-scope "Client" collaborator.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipv4"
)

// lengthPrefixLength is the size of the big-endian length prefix that
// frames every IPv4 packet on the wire, matching the framing
// original_source/src/relay/udp_connection.rs and icmp_connection.rs
// assume is already done by the time an Ipv4Packet reaches them.
const lengthPrefixLength = 2

// Conn frames whole IPv4 packets (at most ipv4.MaxPacketLength bytes)
// over an underlying net.Conn with a 2-byte big-endian length prefix.
type Conn struct {
	nc  net.Conn
	buf [ipv4.MaxPacketLength]byte
}

// NewConn wraps nc for framed packet I/O.
func NewConn(nc net.Conn) *Conn { return &Conn{nc: nc} }

// ReadPacket reads exactly one framed IPv4 packet. The returned slice
// aliases Conn's internal buffer and is only valid until the next call.
func (c *Conn) ReadPacket() ([]byte, error) {
	var hdr [lengthPrefixLength]byte
	if _, err := io.ReadFull(c.nc, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if int(n) > len(c.buf) {
		return nil, fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	if _, err := io.ReadFull(c.nc, c.buf[:n]); err != nil {
		return nil, err
	}
	return c.buf[:n], nil
}

// WritePacket writes packet as one length-prefixed frame.
func (c *Conn) WritePacket(packet []byte) error {
	if len(packet) > ipv4.MaxPacketLength {
		return fmt.Errorf("wire: packet too large: %d bytes", len(packet))
	}
	var hdr [lengthPrefixLength]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(packet)))
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.nc.Write(packet)
	return err
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
