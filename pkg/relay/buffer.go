package relay

import (
	"errors"
	"fmt"
)

// Writer is the minimal sink a buffer drains into: a non-blocking,
// connected datagram socket. Implementations must return ErrWouldBlock
// (not io.ErrShortWrite or a wrapped EAGAIN) when the write cannot
// currently proceed.
type Writer interface {
	Write(b []byte) (int, error)
}

// StreamBuffer is a bounded, contiguous byte buffer for the ICMP
// connection's client-to-network direction. Framing is irrelevant within
// the relay for ICMP (spec.md §4.2 rationale): bytes go in, bytes come
// out, in order.
type StreamBuffer struct {
	capacity int
	data     []byte
}

// NewStreamBuffer returns an empty StreamBuffer with the given byte
// capacity.
func NewStreamBuffer(capacity int) *StreamBuffer {
	return &StreamBuffer{capacity: capacity}
}

// IsEmpty reports whether the buffer holds no bytes.
func (b *StreamBuffer) IsEmpty() bool { return len(b.data) == 0 }

// Remaining reports how many more bytes Enqueue will accept.
func (b *StreamBuffer) Remaining() int { return b.capacity - len(b.data) }

// Enqueue appends p to the buffer, or fails with ErrBufferFull without
// mutating the buffer if p does not fit (spec.md invariant 4).
func (b *StreamBuffer) Enqueue(p []byte) error {
	if len(p) > b.Remaining() {
		return ErrBufferFull
	}
	b.data = append(b.data, p...)
	return nil
}

// Drain writes as much of the buffer as w accepts, discarding the count.
// It satisfies the outboundBuffer interface shared with DatagramBuffer.
func (b *StreamBuffer) Drain(w Writer) error {
	_, err := b.WriteTo(w)
	return err
}

// WriteTo drains as much of the front of the buffer as w accepts in one
// call, returning the number of bytes written. ErrWouldBlock is
// propagated verbatim and leaves the buffer untouched.
func (b *StreamBuffer) WriteTo(w Writer) (int, error) {
	if len(b.data) == 0 {
		return 0, nil
	}
	n, err := w.Write(b.data)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	b.data = b.data[n:]
	return n, nil
}

// DatagramBuffer is a bounded FIFO of discrete datagrams for the UDP
// connection's client-to-network direction. Unlike StreamBuffer, datagram
// boundaries must survive the trip through the buffer (spec.md §4.2
// rationale): a partial datagram is never acceptable.
type DatagramBuffer struct {
	capacity int
	used     int
	queue    [][]byte
}

// NewDatagramBuffer returns an empty DatagramBuffer with the given total
// byte capacity across all queued datagrams.
func NewDatagramBuffer(capacity int) *DatagramBuffer {
	return &DatagramBuffer{capacity: capacity}
}

// IsEmpty reports whether no datagrams are queued.
func (b *DatagramBuffer) IsEmpty() bool { return len(b.queue) == 0 }

// Remaining reports how many more bytes Enqueue will accept.
func (b *DatagramBuffer) Remaining() int { return b.capacity - b.used }

// Enqueue appends datagram as one indivisible unit, or fails with
// ErrBufferFull without mutating the buffer if it does not fit.
func (b *DatagramBuffer) Enqueue(datagram []byte) error {
	if len(datagram) > b.Remaining() {
		return ErrBufferFull
	}
	cp := make([]byte, len(datagram))
	copy(cp, datagram)
	b.queue = append(b.queue, cp)
	b.used += len(cp)
	return nil
}

// Drain writes at most one queued datagram, satisfying the outboundBuffer
// interface shared with StreamBuffer.
func (b *DatagramBuffer) Drain(w Writer) error {
	return b.WriteTo(w)
}

// WriteTo sends exactly the oldest queued datagram in a single Write call.
// On ErrWouldBlock the queue is untouched. A short write (the underlying
// socket accepted only part of the datagram) is an invariant violation for
// a connected datagram socket and is reported as an error rather than
// silently re-queuing a partial datagram.
func (b *DatagramBuffer) WriteTo(w Writer) error {
	if len(b.queue) == 0 {
		return nil
	}
	dg := b.queue[0]
	n, err := w.Write(dg)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return ErrWouldBlock
		}
		return err
	}
	if n != len(dg) {
		return fmt.Errorf("relay: short datagram write: %d/%d bytes", n, len(dg))
	}
	b.queue = b.queue[1:]
	b.used -= len(dg)
	return nil
}
