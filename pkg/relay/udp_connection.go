package relay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipv4"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
)

// UDPIdleTimeout is the wall-clock bound on UDP connection inactivity
// (spec.md §4.5 "Expiration").
const UDPIdleTimeout = 120 * time.Second

// udpBufferCapacity is the total byte capacity of a UDP connection's
// client_to_network buffer, sized at 4x the largest single IPv4 packet so
// a short burst can queue without dropping (spec.md §3).
const udpBufferCapacity = 4 * ipv4.MaxPacketLength

// UDPConnection is the Connection implementation for one UDP flow (spec.md
// §4, §9 "Polymorphism over transports").
type UDPConnection struct {
	*baseConnection
}

// NewUDPConnection opens a host UDP socket connected to dst:dstPort,
// registers it with sel, and returns a live UDPConnection. ipHdr and udpHdr
// are the client's original (request-direction) headers, captured as
// templates for synthesizing replies.
func NewUDPConnection(
	ctx context.Context,
	id ConnectionID,
	router Router,
	client Client,
	sel reactor.Selector,
	clock clockwork.Clock,
	ipHdr ipv4.Header,
	udpHdr ipv4.UDPHeader,
) (*UDPConnection, error) {
	dst := ipHdr.Dst
	socket, err := NewUDPHostSocket(dst, udpHdr.DstPort)
	if err != nil {
		return nil, err
	}

	buf := NewDatagramBuffer(udpBufferCapacity)
	pz := NewUDPPacketizer(ipHdr, udpHdr)

	conn := &UDPConnection{}
	base, err := newBaseConnection(ctx, id, router, client, sel, socket, buf, pz, UDPIdleTimeout, clock, conn.OnReady)
	if err != nil {
		return nil, err
	}
	conn.baseConnection = base
	return conn, nil
}

// SendToNetwork enqueues one inbound UDP datagram's payload, per spec.md
// §4.5 "send_to_network".
func (c *UDPConnection) SendToNetwork(payload []byte, encodedLength int) error {
	return c.sendToNetwork(payload, encodedLength)
}

// OnReady runs one readiness tick for this UDP connection.
func (c *UDPConnection) OnReady(ev reactor.Event) { c.runTick(ev) }
