//go:build linux

package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollDispatchesReadable(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	sel, err := NewEpoll()
	require.NoError(t, err)
	defer sel.Close()

	fired := make(chan Event, 1)
	_, err = sel.Register(r, Readable, func(ev Event) { fired <- ev })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sel.Run(ctx)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	select {
	case ev := <-fired:
		require.True(t, ev.Readable)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for readiness callback")
	}
}

func TestEpollReregisterChangesInterest(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	r, w := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(w)

	sel, err := NewEpoll()
	require.NoError(t, err)
	defer sel.Close()

	fired := make(chan Event, 4)
	tok, err := sel.Register(w, Writable, func(ev Event) { fired <- ev })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sel.Run(ctx)

	select {
	case ev := <-fired:
		require.True(t, ev.Writable)
	case <-time.After(time.Second):
		t.Fatal("expected writable event for a pipe write end")
	}

	require.NoError(t, sel.Reregister(tok, 0))
	require.NoError(t, sel.Deregister(tok))
}
