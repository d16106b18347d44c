package wire

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/jonboulle/clockwork"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipproto"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/ipv4"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/relay"
)

// Client owns one framed Conn and the Router of relay.Connection objects
// fed from it. Its ReadLoop is modeled directly on
// pkg/connpool/stream.go's dispatch-by-ID read loop, adapted from gRPC
// ConnMessage envelopes to length-framed IPv4 packets.
type Client struct {
	ctx    context.Context
	conn   *Conn
	router *Router
	sel    reactor.Selector
	clock  clockwork.Clock
}

// NewClient wraps conn for one virtual-client session.
func NewClient(ctx context.Context, conn *Conn, sel reactor.Selector, clock clockwork.Clock) *Client {
	return &Client{ctx: ctx, conn: conn, router: NewRouter(), sel: sel, clock: clock}
}

// Router returns the connection table this client owns.
func (c *Client) Router() *Router { return c.router }

// SendToClient implements relay.Client: it writes a synthetic reply packet
// back onto the framed stream. Per spec.md §4.5 step 4 an error here is
// client-channel backpressure, which the caller logs and drops rather than
// treating as a connection failure.
func (c *Client) SendToClient(sel reactor.Selector, packet []byte) error {
	return c.conn.WritePacket(packet)
}

// ReadLoop reads framed IPv4 packets until the connection closes or ctx is
// cancelled, dispatching each to the owning relay.Connection (opening one
// on first sight of a new ConnectionID).
func (c *Client) ReadLoop() error {
	for {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		pkt, err := c.conn.ReadPacket()
		if err != nil {
			return err
		}
		if err := c.dispatch(pkt); err != nil {
			dlog.Warnf(c.ctx, "dropping malformed inbound packet: %v", err)
		}
	}
}

// dispatch parses one inbound IPv4 packet and routes its payload to the
// connection identified by its five-tuple, opening the connection first
// if needed.
func (c *Client) dispatch(pkt []byte) error {
	ipHdr, err := ipv4.ParseHeader(pkt)
	if err != nil {
		return fmt.Errorf("ip header: %w", err)
	}
	transport := pkt[ipv4.HeaderLength:]

	switch ipHdr.Protocol {
	case ipproto.UDP:
		return c.dispatchUDP(ipHdr, transport)
	case ipproto.ICMP:
		return c.dispatchICMP(ipHdr, transport)
	default:
		return fmt.Errorf("unsupported protocol %d", ipHdr.Protocol)
	}
}

func (c *Client) dispatchUDP(ipHdr ipv4.Header, transport []byte) error {
	udpHdr, err := ipv4.ParseUDPHeader(transport)
	if err != nil {
		return fmt.Errorf("udp header: %w", err)
	}
	payload := transport[ipv4.UDPHeaderLength:]
	id := relay.NewUDPConnectionID(ipHdr.Src, ipHdr.Dst, udpHdr.SrcPort, udpHdr.DstPort)

	conn, err := c.router.GetOrCreate(id, func() (relay.Connection, error) {
		return relay.NewUDPConnection(c.ctx, id, c.router, c, c.sel, c.clock, ipHdr, udpHdr)
	})
	if err != nil {
		return fmt.Errorf("open udp connection %s: %w", id, err)
	}
	return conn.SendToNetwork(payload, ipv4.HeaderLength+len(transport))
}

func (c *Client) dispatchICMP(ipHdr ipv4.Header, transport []byte) error {
	echo, err := ipv4.ParseICMPEcho(transport)
	if err != nil {
		return fmt.Errorf("icmp header: %w", err)
	}
	payload := transport[ipv4.ICMPEchoHeaderLength:]
	id := relay.NewICMPConnectionID(ipHdr.Src, ipHdr.Dst, echo.ID)

	conn, err := c.router.GetOrCreate(id, func() (relay.Connection, error) {
		return relay.NewICMPConnection(c.ctx, id, c.router, c, c.sel, c.clock, ipHdr, echo)
	})
	if err != nil {
		return fmt.Errorf("open icmp connection %s: %w", id, err)
	}
	return conn.SendToNetwork(payload, ipv4.HeaderLength+len(transport))
}
