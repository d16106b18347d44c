package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
)

// Router is the table of live connections a Connection can remove itself
// from mid-tick (spec.md §6, "Router interface"). Grounded on
// telepresenceio/telepresence's connpool.Pool, whose handlers call back
// into the pool to deregister themselves on close.
type Router interface {
	// Remove drops the connection identified by id from the table. Safe
	// to call from within a tick; safe to call more than once.
	Remove(id ConnectionID)
}

// Client is the far side of the tunnel a Connection hands synthesized
// reply packets to (spec.md §6, "Client interface"). Grounded on
// telepresenceio/telepresence's connpool.Handler, which writes egress
// frames back onto the gRPC stream rather than failing the handler on
// backpressure.
type Client interface {
	// SendToClient delivers packet (a complete synthetic IPv4 packet) to
	// the virtual client. An error means backpressure or a closed
	// channel, never a reason to close the connection that produced the
	// packet (spec.md §4.5 step 4, §7 kind 3).
	SendToClient(sel reactor.Selector, packet []byte) error
}

// Connection is the capability set the router and client consume for any
// transport (spec.md §6, "Connection trait"). UDPConnection and
// ICMPConnection both satisfy it by embedding *baseConnection; per spec.md
// §9 "Polymorphism over transports" this is the capability-based
// alternative to a tagged-variant enum.
type Connection interface {
	// ID returns the connection's immutable five-tuple identity.
	ID() ConnectionID

	// SendToNetwork is called by the router (never by the poll driver)
	// to deliver one inbound packet from the client toward the host.
	// payload is the packet's transport payload only, not its headers;
	// encodedLength is the full wire length of the inbound packet
	// (headers included), which is what capacity is checked against
	// (spec.md §4.5 "send_to_network").
	SendToNetwork(payload []byte, encodedLength int) error

	// OnReady runs one readiness tick (spec.md §4.5 "Process cycle").
	// It is the Handler a Selector invokes.
	OnReady(ev reactor.Event)

	// Close tears the connection down: marks it closed and deregisters
	// its socket. Safe to call more than once. A non-nil error is never
	// a reason to abort a shutdown in progress — callers that tear down
	// several connections at once (Router.CloseAll) join these with
	// multierror rather than stopping at the first failure.
	Close() error

	// IsExpired reports whether the connection has been idle longer
	// than its protocol's idle timeout.
	IsExpired() bool

	// IsClosed reports whether Close has run.
	IsClosed() bool
}

// outboundBuffer is the client-to-network buffer a baseConnection drains
// each tick. StreamBuffer (ICMP) and DatagramBuffer (UDP) both satisfy it;
// unifying them here is what lets baseConnection implement spec.md §4.5's
// process cycle once for both transports (spec.md §9 flags the original's
// inconsistent WouldBlock handling between the two as a defect to fix,
// which a single shared implementation makes structurally impossible to
// reintroduce).
type outboundBuffer interface {
	IsEmpty() bool
	Remaining() int
	Enqueue(p []byte) error
	Drain(w Writer) error
}

// baseConnection implements the transport-agnostic half of spec.md §4.4
// ("Connection state machine") and §4.5 ("Process cycle"). UDPConnection
// and ICMPConnection each embed one, supplying their own HostSocket,
// Packetizer and outboundBuffer.
type baseConnection struct {
	ctx    context.Context
	id     ConnectionID
	router Router
	client Client

	sel    reactor.Selector
	socket HostSocket
	token  reactor.Token

	outbound   outboundBuffer
	packetizer Packetizer

	interests reactor.Interest
	closed    bool

	clock       clockwork.Clock
	idleSince   time.Time
	idleTimeout time.Duration
}

// newBaseConnection registers socket with sel for READABLE and wires the
// shared bookkeeping. handler is supplied by the embedding type so the
// registered callback invokes UDPConnection.OnReady/ICMPConnection.OnReady
// (and thus the correct dynamic type) rather than baseConnection's own
// methods directly.
func newBaseConnection(
	ctx context.Context,
	id ConnectionID,
	router Router,
	client Client,
	sel reactor.Selector,
	socket HostSocket,
	outbound outboundBuffer,
	packetizer Packetizer,
	idleTimeout time.Duration,
	clock clockwork.Clock,
	handler reactor.Handler,
) (*baseConnection, error) {
	c := &baseConnection{
		ctx:         ctx,
		id:          id,
		router:      router,
		client:      client,
		sel:         sel,
		socket:      socket,
		outbound:    outbound,
		packetizer:  packetizer,
		interests:   reactor.Readable,
		clock:       clock,
		idleTimeout: idleTimeout,
	}
	c.touch()
	tok, err := sel.Register(socket.FD(), reactor.Readable, handler)
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("relay: register %s: %w", id, err)
	}
	c.token = tok
	return c, nil
}

// ID returns the connection's identity.
func (c *baseConnection) ID() ConnectionID { return c.id }

// touch resets the idle clock; called on every tick and on every inbound
// enqueue (spec.md §4.5 step 1, §8 "is_expired() is true iff...").
func (c *baseConnection) touch() { c.idleSince = c.clock.Now() }

// IsExpired reports whether the connection has been idle past its
// protocol's timeout (spec.md §4.5 "Expiration").
func (c *baseConnection) IsExpired() bool {
	return c.clock.Now().Sub(c.idleSince) > c.idleTimeout
}

// IsClosed reports whether Close has run.
func (c *baseConnection) IsClosed() bool { return c.closed }

// Close marks the connection closed and deregisters its socket.
// Deregistration and socket-close failures are logged at debug level and
// never escalated within a single tick (spec.md §4.5 "close", §7 kind 5):
// the poll driver may already have dropped the registration. They are
// still returned, joined with multierror, so a caller tearing down many
// connections at once (Router.CloseAll) can report what failed instead of
// silently losing it.
func (c *baseConnection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var merr *multierror.Error
	if err := c.sel.Deregister(c.token); err != nil {
		dlog.Debugf(c.ctx, "%s: deregister on close: %v", c.id, err)
		merr = multierror.Append(merr, fmt.Errorf("deregister: %w", err))
	}
	if err := c.socket.Close(); err != nil {
		dlog.Debugf(c.ctx, "%s: socket close: %v", c.id, err)
		merr = multierror.Append(merr, fmt.Errorf("socket close: %w", err))
	}
	return merr.ErrorOrNil()
}

// sendToNetwork implements spec.md §4.5's "send_to_network": the inbound
// packet's full encoded length is checked against remaining capacity, but
// only the payload is appended (headers never occupy buffer space — the
// relay regenerates them on the way out from cached templates). Enqueue is
// idempotent on error: nothing is appended if it doesn't fit.
func (c *baseConnection) sendToNetwork(payload []byte, encodedLength int) error {
	if c.closed {
		return nil
	}
	if encodedLength > c.outbound.Remaining() {
		dlog.Warnf(c.ctx, "%s: client_to_network full, dropping %d-byte packet", c.id, encodedLength)
		return nil
	}
	if err := c.outbound.Enqueue(payload); err != nil {
		dlog.Warnf(c.ctx, "%s: dropping inbound packet: %v", c.id, err)
		return nil
	}
	c.touch()
	return c.updateInterests()
}

// runTick implements spec.md §4.5's six-step process cycle, shared by
// UDPConnection and ICMPConnection.
func (c *baseConnection) runTick(ev reactor.Event) {
	if c.closed {
		return
	}
	c.touch()

	if !ev.Readable && !ev.Writable {
		dlog.Debugf(c.ctx, "%s: spurious readiness, closing", c.id)
		c.closeAndRemove()
		return
	}

	if ev.Writable {
		if err := c.outbound.Drain(c.socket); err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			dlog.Warnf(c.ctx, "%s: write to host failed: %v", c.id, err)
			c.Close()
		}
	}

	if !c.closed && ev.Readable {
		pkt, err := c.packetizer.Packetize(c.socket, 0)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			dlog.Warnf(c.ctx, "%s: read from host failed: %v", c.id, err)
			c.Close()
		} else if pkt != nil {
			if err := c.client.SendToClient(c.sel, pkt); err != nil {
				dlog.Warnf(c.ctx, "%s: dropping egress packet: %v", c.id, err)
			}
		}
	}

	if !c.closed {
		if err := c.updateInterests(); err != nil {
			dlog.Errorf(c.ctx, "%s: update interests: %v", c.id, err)
			c.Close()
		}
	}

	if c.closed {
		c.router.Remove(c.id)
	}
}

// updateInterests recomputes the desired interest set from the outbound
// buffer's occupancy and reregisters only on change (spec.md §4.5
// "update_interests", §8 "idempotent when called repeatedly without state
// change").
func (c *baseConnection) updateInterests() error {
	desired := reactor.Readable
	if !c.outbound.IsEmpty() {
		desired |= reactor.Writable
	}
	if desired == c.interests {
		return nil
	}
	if err := c.sel.Reregister(c.token, desired); err != nil {
		return fmt.Errorf("reregister: %w", err)
	}
	c.interests = desired
	return nil
}

// closeAndRemove closes the connection and removes it from the router.
// Used only by the spurious-readiness branch of runTick, which spec.md
// §4.5 step 2 says to close and remove and then explicitly return; every
// other close path in runTick falls through to step 6's unconditional
// removal instead.
func (c *baseConnection) closeAndRemove() {
	c.Close()
	c.router.Remove(c.id)
}
