package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
	"github.com/CandySunPlus/gnirehtet-relay/pkg/relay"
)

type fakeConnection struct {
	id       relay.ConnectionID
	expired  bool
	closed   bool
	closeErr error
}

func (c *fakeConnection) ID() relay.ConnectionID                                { return c.id }
func (c *fakeConnection) SendToNetwork(payload []byte, encodedLength int) error { return nil }
func (c *fakeConnection) OnReady(ev reactor.Event)                              {}
func (c *fakeConnection) IsExpired() bool                                       { return c.expired }
func (c *fakeConnection) IsClosed() bool                                        { return c.closed }

func (c *fakeConnection) Close() error {
	c.closed = true
	return c.closeErr
}

func TestRouterGetOrCreateCallsCreateOnce(t *testing.T) {
	r := NewRouter()
	id := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 1, 2)
	calls := 0
	create := func() (relay.Connection, error) {
		calls++
		return &fakeConnection{id: id}, nil
	}

	c1, err := r.GetOrCreate(id, create)
	require.NoError(t, err)
	c2, err := r.GetOrCreate(id, create)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Count())
}

func TestRouterRemove(t *testing.T) {
	r := NewRouter()
	id := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 1, 2)
	_, err := r.GetOrCreate(id, func() (relay.Connection, error) { return &fakeConnection{id: id}, nil })
	require.NoError(t, err)

	r.Remove(id)
	_, ok := r.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestRouterSweepRemovesOnlyExpired(t *testing.T) {
	r := NewRouter()
	idA := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 1, 2)
	idB := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 3, 4)

	fa := &fakeConnection{id: idA, expired: true}
	fb := &fakeConnection{id: idB, expired: false}
	_, err := r.GetOrCreate(idA, func() (relay.Connection, error) { return fa, nil })
	require.NoError(t, err)
	_, err = r.GetOrCreate(idB, func() (relay.Connection, error) { return fb, nil })
	require.NoError(t, err)

	r.Sweep()

	_, ok := r.Get(idA)
	assert.False(t, ok)
	assert.True(t, fa.closed)
	_, ok = r.Get(idB)
	assert.True(t, ok)
	assert.False(t, fb.closed)
}

func TestRouterCloseAll(t *testing.T) {
	r := NewRouter()
	id := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 1, 2)
	fc := &fakeConnection{id: id}
	_, err := r.GetOrCreate(id, func() (relay.Connection, error) { return fc, nil })
	require.NoError(t, err)

	require.NoError(t, r.CloseAll())
	assert.True(t, fc.closed)
	assert.Equal(t, 0, r.Count())
}

func TestRouterCloseAllJoinsErrors(t *testing.T) {
	r := NewRouter()
	idA := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 1, 2)
	idB := relay.NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 3, 4)

	boom := errors.New("socket close failed")
	fa := &fakeConnection{id: idA, closeErr: boom}
	fb := &fakeConnection{id: idB}
	_, err := r.GetOrCreate(idA, func() (relay.Connection, error) { return fa, nil })
	require.NoError(t, err)
	_, err = r.GetOrCreate(idB, func() (relay.Connection, error) { return fb, nil })
	require.NoError(t, err)

	err = r.CloseAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, fa.closed)
	assert.True(t, fb.closed)
	assert.Equal(t, 0, r.Count())
}
