//go:build linux

package reactor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// maxEvents bounds one EpollWait batch. Connections beyond this simply wait
// for the next iteration; it does not bound how many fds can be registered.
const maxEvents = 256

type registration struct {
	fd      int
	handler Handler
}

// Epoll is a Selector backed by epoll(7). Grounded on the poll/epoll idiom
// in malbeclabs-doublezero's tools/uping/pkg/uping/listener.go (eventfd
// used to interrupt the wait loop on cancellation, EAGAIN/EINTR treated as
// "not ready") and tools/twamp/pkg/light/reflector_linux.go (epoll over a
// raw, non-blocking socket), generalized here from "one fixed socket" to an
// arbitrary number of registrations.
type Epoll struct {
	epfd int
	efd  int // eventfd used to interrupt EpollWait once Run's ctx is done

	mu      sync.Mutex
	nextTok uint64
	byToken map[Token]*registration
	fdToTok map[int]Token
}

// NewEpoll creates a new epoll-backed Selector.
func NewEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}); err != nil {
		unix.Close(epfd)
		unix.Close(efd)
		return nil, fmt.Errorf("reactor: register eventfd: %w", err)
	}
	return &Epoll{
		epfd:    epfd,
		efd:     efd,
		byToken: make(map[Token]*registration),
		fdToTok: make(map[int]Token),
	}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i.Has(Readable) {
		ev |= unix.EPOLLIN
	}
	if i.Has(Writable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (e *Epoll) Register(fd int, interest Interest, handler Handler) (Token, error) {
	e.mu.Lock()
	e.nextTok++
	tok := Token(e.nextTok)
	e.mu.Unlock()

	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return 0, fmt.Errorf("reactor: epoll_ctl(ADD, fd=%d): %w", fd, err)
	}

	e.mu.Lock()
	e.byToken[tok] = &registration{fd: fd, handler: handler}
	e.fdToTok[fd] = tok
	e.mu.Unlock()
	return tok, nil
}

func (e *Epoll) Reregister(token Token, interest Interest) error {
	e.mu.Lock()
	reg, ok := e.byToken[token]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("reactor: reregister: unknown token %d", token)
	}
	ev := &unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(reg.fd)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, reg.fd, ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(MOD, fd=%d): %w", reg.fd, err)
	}
	return nil
}

func (e *Epoll) Deregister(token Token) error {
	e.mu.Lock()
	reg, ok := e.byToken[token]
	if ok {
		delete(e.byToken, token)
		delete(e.fdToTok, reg.fd)
	}
	e.mu.Unlock()
	if !ok {
		// Already gone; the poll driver may have dropped it already
		// (spec.md §7, "poll-driver error ... warn only").
		return nil
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("reactor: epoll_ctl(DEL, fd=%d): %w", reg.fd, err)
	}
	return nil
}

// Run dispatches readiness events until ctx is cancelled.
func (e *Epoll) Run(ctx context.Context) error {
	done := ctx.Done()
	go func() {
		<-done
		var one [8]byte
		binary.LittleEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(e.efd, one[:])
	}()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(e.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == e.efd {
				if ctx.Err() != nil {
					return nil
				}
				var tmp [8]byte
				_, _ = unix.Read(e.efd, tmp[:])
				continue
			}
			e.mu.Lock()
			tok, ok := e.fdToTok[int(ev.Fd)]
			var reg *registration
			if ok {
				reg = e.byToken[tok]
			}
			e.mu.Unlock()
			if reg == nil {
				continue // raced with Deregister; drop the stale event
			}
			reg.handler(Event{
				Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0,
				Writable: ev.Events&unix.EPOLLOUT != 0,
			})
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close releases the epoll and eventfd descriptors.
func (e *Epoll) Close() error {
	_ = unix.Close(e.efd)
	return unix.Close(e.epfd)
}
