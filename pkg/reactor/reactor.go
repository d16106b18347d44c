// Package reactor is the poll driver the spec calls Selector: connections
// register a non-blocking file descriptor and a callback, and the reactor
// invokes that callback whenever the descriptor becomes readable or
// writable. It is the single cooperative scheduler spec.md §5 describes —
// everything downstream of Run runs on the goroutine that called Run, one
// callback at a time, so pkg/relay.Connection needs no internal locking.
package reactor

import "context"

// Interest is a bitset of the readiness a registration cares about.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Has reports whether i includes o.
func (i Interest) Has(o Interest) bool { return i&o != 0 }

// Event reports which of the registered interests fired.
type Event struct {
	Readable bool
	Writable bool
}

// Handler is invoked by the reactor on readiness. It must not block.
type Handler func(Event)

// Token identifies one registration. It is opaque to callers, echoing the
// spec's "token — opaque handle from the poll driver" (spec.md §3).
type Token uint64

// Selector is the poll driver contract pkg/relay.Connection consumes
// (spec.md §6, "Selector interface").
type Selector interface {
	// Register adds fd to the poll set with the given interest and
	// returns the Token identifying this registration.
	Register(fd int, interest Interest, handler Handler) (Token, error)

	// Reregister changes the interest set for an existing registration.
	// Called only on transition, per spec.md invariant 1.
	Reregister(token Token, interest Interest) error

	// Deregister removes a registration. It is safe to call more than
	// once or on an already-removed token (spec.md §4.5 "close... log
	// and ignore deregistration errors").
	Deregister(token Token) error

	// Run blocks, dispatching readiness callbacks, until ctx is
	// cancelled or an unrecoverable poll error occurs.
	Run(ctx context.Context) error
}
