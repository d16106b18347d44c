//go:build !linux

package reactor

import (
	"context"
	"errors"
)

// ErrUnsupportedPlatform is returned by NewEpoll on platforms where this
// relay's raw, non-blocking-socket reactor is not implemented. spec.md §9
// notes that raw ICMP access is OS- and privilege-dependent and that the
// spec does not define non-Unix behavior; this gates the whole reactor
// (not just ICMP) rather than silently degrading to a slower, unverified
// poll mechanism.
var ErrUnsupportedPlatform = errors.New("reactor: epoll selector is only implemented on linux")

// Epoll is a stand-in on non-Linux platforms; every method fails.
type Epoll struct{}

func NewEpoll() (*Epoll, error) { return nil, ErrUnsupportedPlatform }

func (e *Epoll) Register(fd int, interest Interest, handler Handler) (Token, error) {
	return 0, ErrUnsupportedPlatform
}

func (e *Epoll) Reregister(token Token, interest Interest) error { return ErrUnsupportedPlatform }

func (e *Epoll) Deregister(token Token) error { return ErrUnsupportedPlatform }

func (e *Epoll) Run(ctx context.Context) error { return ErrUnsupportedPlatform }

func (e *Epoll) Close() error { return nil }
