package relay

// HostSocket is the non-blocking datagram socket a Connection owns: the
// real side of the conversation on the host's network (spec.md §4.1). Both
// the UDP and ICMP variants are connected sockets — bound to an ephemeral
// local address and connected to the rewritten destination — so Read/Write
// always refer to that one peer.
type HostSocket interface {
	Reader
	Writer

	// FD returns the underlying, non-blocking file descriptor, for
	// registration with a reactor.Selector.
	FD() int

	// Close releases the socket. Safe to call more than once.
	Close() error
}
