package relay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipv4"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
)

// ICMPIdleTimeout is the wall-clock bound on ICMP connection inactivity
// (spec.md §4.5 "Expiration"). Far shorter than UDP's: an echo exchange is
// a single request/reply, not a session.
const ICMPIdleTimeout = 2 * time.Second

// icmpBufferCapacity is the total byte capacity of an ICMP connection's
// client_to_network stream buffer: one packet's worth (spec.md §3).
const icmpBufferCapacity = ipv4.MaxPacketLength

// ICMPConnection is the Connection implementation for one ICMP echo flow
// (spec.md §4, §9 "Polymorphism over transports"). The router identifies
// ICMP flows by source/destination IP and echo identifier, never by
// sequence number or by request-vs-reply (spec.md §9 "ICMP header parsing
// is a stub... does not distinguish echo request vs reply").
type ICMPConnection struct {
	*baseConnection
}

// NewICMPConnection opens a raw ICMP host socket connected to dst,
// registers it with sel, and returns a live ICMPConnection. ipHdr and echo
// are the client's original echo request, captured as templates for
// synthesizing the reply.
func NewICMPConnection(
	ctx context.Context,
	id ConnectionID,
	router Router,
	client Client,
	sel reactor.Selector,
	clock clockwork.Clock,
	ipHdr ipv4.Header,
	echo ipv4.ICMPEcho,
) (*ICMPConnection, error) {
	socket, err := NewICMPHostSocket(ipHdr.Dst)
	if err != nil {
		return nil, err
	}

	buf := NewStreamBuffer(icmpBufferCapacity)
	pz := NewICMPPacketizer(ipHdr, echo)

	conn := &ICMPConnection{}
	base, err := newBaseConnection(ctx, id, router, client, sel, socket, buf, pz, ICMPIdleTimeout, clock, conn.OnReady)
	if err != nil {
		return nil, err
	}
	conn.baseConnection = base
	return conn, nil
}

// SendToNetwork enqueues one inbound ICMP echo message's payload, per
// spec.md §4.5 "send_to_network". ICMP carries no framing of its own once
// inside client_to_network: bytes simply flow through (spec.md §4.2
// rationale).
func (c *ICMPConnection) SendToNetwork(payload []byte, encodedLength int) error {
	return c.sendToNetwork(payload, encodedLength)
}

// OnReady runs one readiness tick for this ICMP connection.
func (c *ICMPConnection) OnReady(ev reactor.Event) { c.runTick(ev) }
