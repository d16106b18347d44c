package relay

import "errors"

// ErrWouldBlock is returned by a HostSocket or buffer write/read that
// cannot currently make progress without blocking. It is never treated as
// a failure — only as a signal to unwind the current tick (spec.md §4.6,
// §7 "Transient readiness").
var ErrWouldBlock = errors.New("relay: would block")

// ErrBufferFull is returned by DatagramBuffer/StreamBuffer.Enqueue when the
// payload does not fit in the remaining capacity. The caller must drop the
// offending packet without partially enqueuing it (spec.md invariant 4).
var ErrBufferFull = errors.New("relay: buffer full")
