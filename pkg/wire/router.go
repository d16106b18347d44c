package wire

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/relay"
)

// Router is the concrete relay.Router: a table of live connections keyed
// by ConnectionID, grounded on pkg/connpool/pool.go's Pool (a
// map[ConnID]Handler behind a sync.Mutex with a Get/release pattern),
// generalized here from Handler to this relay's Connection contract.
//
// The relay's process cycle itself is single-threaded per spec.md §5, but
// the map is reached from two call paths — the reactor's readiness loop
// and Client's inbound read loop — so, exactly like Pool, it takes a
// short-held mutex rather than relying on the single-threaded assumption
// holding across goroutines.
type Router struct {
	mu    sync.Mutex
	conns map[relay.ConnectionID]relay.Connection
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{conns: make(map[relay.ConnectionID]relay.Connection)}
}

// Get returns the connection for id, if one is live.
func (r *Router) Get(id relay.ConnectionID) (relay.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// GetOrCreate returns the existing connection for id, or calls create to
// open and register a new one. create runs under the router's lock, just
// as Pool.Get runs createHandler under its lock.
func (r *Router) GetOrCreate(id relay.ConnectionID, create func() (relay.Connection, error)) (relay.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		return c, nil
	}
	c, err := create()
	if err != nil {
		return nil, err
	}
	r.conns[id] = c
	return c, nil
}

// Remove drops id from the table. Implements relay.Router.
func (r *Router) Remove(id relay.ConnectionID) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Count reports the number of live connections.
func (r *Router) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Sweep closes and removes every connection whose idle timeout has
// elapsed, per spec.md §4.5 "Expiration": "the router sweeps periodically
// and closes expired connections".
func (r *Router) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		if c.IsExpired() {
			c.Close()
			delete(r.conns, id)
		}
	}
}

// CloseAll closes and removes every connection, for relay shutdown. Unlike
// Sweep, it cannot silently drop the outcome: a session ending is the one
// point an operator wants to know what, if anything, failed to close
// cleanly, so per-connection errors are joined with multierror rather than
// discarded.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var merr *multierror.Error
	for id, c := range r.conns {
		if err := c.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", id, err))
		}
		delete(r.conns, id)
	}
	return merr.ErrorOrNil()
}
