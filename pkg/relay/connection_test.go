package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CandySunPlus/gnirehtet-relay/pkg/reactor"
)

type fakeRegistration struct {
	fd           int
	interest     reactor.Interest
	handler      reactor.Handler
	deregistered bool
}

type fakeSelector struct {
	regs     map[reactor.Token]*fakeRegistration
	next     reactor.Token
	reregErr error
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{regs: map[reactor.Token]*fakeRegistration{}}
}

func (s *fakeSelector) Register(fd int, interest reactor.Interest, handler reactor.Handler) (reactor.Token, error) {
	s.next++
	s.regs[s.next] = &fakeRegistration{fd: fd, interest: interest, handler: handler}
	return s.next, nil
}

func (s *fakeSelector) Reregister(token reactor.Token, interest reactor.Interest) error {
	if s.reregErr != nil {
		return s.reregErr
	}
	r, ok := s.regs[token]
	if !ok {
		return errors.New("fakeSelector: unknown token")
	}
	r.interest = interest
	return nil
}

func (s *fakeSelector) Deregister(token reactor.Token) error {
	r, ok := s.regs[token]
	if !ok {
		return errors.New("fakeSelector: unknown token")
	}
	r.deregistered = true
	return nil
}

func (s *fakeSelector) Run(ctx context.Context) error { return nil }

type fakeClient struct {
	sent [][]byte
	err  error
}

func (c *fakeClient) SendToClient(sel reactor.Selector, packet []byte) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, packet)
	return nil
}

type fakeRouter struct {
	removed []ConnectionID
}

func (r *fakeRouter) Remove(id ConnectionID) { r.removed = append(r.removed, id) }

type fakeSocket struct {
	readData []byte
	readErr  error
	writeErr error
	writeLog [][]byte
	closed   bool
}

func (s *fakeSocket) Read(b []byte) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.readData) == 0 {
		return 0, nil
	}
	n := copy(b, s.readData)
	s.readData = s.readData[n:]
	return n, nil
}

func (s *fakeSocket) Write(b []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.writeLog = append(s.writeLog, cp)
	return len(b), nil
}

func (s *fakeSocket) FD() int      { return 42 }
func (s *fakeSocket) Close() error { s.closed = true; return nil }

type fakePacketizer struct {
	pkt []byte
	err error
}

func (p *fakePacketizer) Packetize(r Reader, maxLen int) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.pkt, nil
}

// newTestConnection builds a baseConnection wired to fakes, for exercising
// runTick/updateInterests/sendToNetwork directly without going through a
// real reactor dispatch (tests call c.runTick themselves).
func newTestConnection(t *testing.T, sel *fakeSelector, client Client, router Router, socket *fakeSocket, outbound outboundBuffer, pz Packetizer, clock clockwork.Clock) *baseConnection {
	t.Helper()
	id := NewUDPConnectionID([4]byte{10, 0, 0, 2}, [4]byte{8, 8, 8, 8}, 54321, 53)
	c, err := newBaseConnection(context.Background(), id, router, client, sel, socket, outbound, pz, UDPIdleTimeout, clock, func(reactor.Event) {})
	require.NoError(t, err)
	return c
}

func TestRunTickSpuriousWakeupCloses(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	buf := NewDatagramBuffer(udpBufferCapacity)
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, buf, &fakePacketizer{}, clockwork.NewFakeClock())

	c.runTick(reactor.Event{})

	assert.True(t, c.IsClosed())
	assert.Equal(t, []ConnectionID{c.id}, router.removed)
	assert.True(t, socket.closed)
}

func TestRunTickWriteWouldBlockAbortsCleanly(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{writeErr: ErrWouldBlock}
	buf := NewDatagramBuffer(udpBufferCapacity)
	require.NoError(t, buf.Enqueue([]byte{1, 2, 3}))
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, buf, &fakePacketizer{}, clockwork.NewFakeClock())

	c.runTick(reactor.Event{Writable: true})

	assert.False(t, c.IsClosed())
	assert.False(t, buf.IsEmpty())
	assert.Empty(t, router.removed)
}

func TestRunTickReadWouldBlockAbortsCleanly(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	pz := &fakePacketizer{err: ErrWouldBlock}
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, NewDatagramBuffer(udpBufferCapacity), pz, clockwork.NewFakeClock())

	c.runTick(reactor.Event{Readable: true})

	assert.False(t, c.IsClosed())
	assert.Empty(t, router.removed)
}

func TestRunTickReadErrorCloses(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	pz := &fakePacketizer{err: errors.New("econnrefused")}
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, NewDatagramBuffer(udpBufferCapacity), pz, clockwork.NewFakeClock())

	c.runTick(reactor.Event{Readable: true})

	assert.True(t, c.IsClosed())
	assert.Equal(t, []ConnectionID{c.id}, router.removed)
}

func TestRunTickDeliversPacketToClient(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	client := &fakeClient{}
	pz := &fakePacketizer{pkt: []byte{0xAB, 0xCD}}
	c := newTestConnection(t, sel, client, router, socket, NewDatagramBuffer(udpBufferCapacity), pz, clockwork.NewFakeClock())

	c.runTick(reactor.Event{Readable: true})

	assert.False(t, c.IsClosed())
	require.Len(t, client.sent, 1)
	assert.Equal(t, []byte{0xAB, 0xCD}, client.sent[0])
}

func TestRunTickClientBackpressureDoesNotClose(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	client := &fakeClient{err: errors.New("channel full")}
	pz := &fakePacketizer{pkt: []byte{0x01}}
	c := newTestConnection(t, sel, client, router, socket, NewDatagramBuffer(udpBufferCapacity), pz, clockwork.NewFakeClock())

	c.runTick(reactor.Event{Readable: true})

	assert.False(t, c.IsClosed())
	assert.Empty(t, router.removed)
}

func TestUpdateInterestsReregistersOnChange(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	buf := NewDatagramBuffer(udpBufferCapacity)
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, buf, &fakePacketizer{}, clockwork.NewFakeClock())

	require.NoError(t, buf.Enqueue([]byte{1}))
	require.NoError(t, c.updateInterests())
	assert.Equal(t, reactor.Readable|reactor.Writable, sel.regs[c.token].interest)

	require.NoError(t, c.updateInterests())
}

func TestSendToNetworkDropsWhenBufferFull(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	buf := NewDatagramBuffer(4)
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, buf, &fakePacketizer{}, clockwork.NewFakeClock())

	err := c.sendToNetwork([]byte{1, 2, 3, 4, 5}, 5)
	require.NoError(t, err)
	assert.True(t, buf.IsEmpty())
	assert.False(t, c.IsClosed())
}

func TestSendToNetworkEnqueuesAndTouches(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	buf := NewDatagramBuffer(udpBufferCapacity)
	clock := clockwork.NewFakeClock()
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, buf, &fakePacketizer{}, clock)

	clock.Advance(1 * time.Hour)
	assert.True(t, c.IsExpired())

	require.NoError(t, c.sendToNetwork([]byte{1, 2}, 30))
	assert.False(t, buf.IsEmpty())
	assert.False(t, c.IsExpired())
}

func TestIsExpired(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	clock := clockwork.NewFakeClock()
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, NewDatagramBuffer(udpBufferCapacity), &fakePacketizer{}, clock)

	assert.False(t, c.IsExpired())
	clock.Advance(UDPIdleTimeout + time.Second)
	assert.True(t, c.IsExpired())
}

func TestCloseIsIdempotent(t *testing.T) {
	sel := newFakeSelector()
	router := &fakeRouter{}
	socket := &fakeSocket{}
	c := newTestConnection(t, sel, &fakeClient{}, router, socket, NewDatagramBuffer(udpBufferCapacity), &fakePacketizer{}, clockwork.NewFakeClock())

	c.Close()
	c.Close()
	assert.True(t, socket.closed)
	assert.True(t, sel.regs[c.token].deregistered)
}
