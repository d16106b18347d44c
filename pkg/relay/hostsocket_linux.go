//go:build linux

package relay

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newConnectedSocket opens a non-blocking socket bound to 0.0.0.0:0 and
// connected to dst:dstPort, per spec.md §4.1. Connecting a datagram or raw
// socket makes the kernel filter reads to that peer and default writes to
// it, which is what lets HostSocket present a plain Read/Write interface
// without per-packet addressing.
func newConnectedSocket(typ, proto int, dst [4]byte, dstPort int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, typ, proto)
	if err != nil {
		return -1, fmt.Errorf("relay: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("relay: set nonblock: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{0, 0, 0, 0}, Port: 0}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("relay: bind: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrInet4{Addr: dst, Port: dstPort}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("relay: connect: %w", err)
	}
	return fd, nil
}

// translateErrno maps EAGAIN/EWOULDBLOCK to ErrWouldBlock so callers never
// have to reason about syscall errno values (spec.md §4.6: "WouldBlock is
// never an error for connection state").
func translateErrno(err error) error {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return ErrWouldBlock
	}
	return err
}

// UDPHostSocket is a HostSocket bound to an ephemeral local port and
// connected to the rewritten destination, using standard connected-UDP
// send/recv semantics (spec.md §4.1).
type UDPHostSocket struct {
	fd int
}

// NewUDPHostSocket opens a UDP HostSocket connected to dst:dstPort.
func NewUDPHostSocket(dst [4]byte, dstPort uint16) (*UDPHostSocket, error) {
	fd, err := newConnectedSocket(unix.SOCK_DGRAM, 0, dst, int(dstPort))
	if err != nil {
		return nil, err
	}
	return &UDPHostSocket{fd: fd}, nil
}

func (s *UDPHostSocket) Read(b []byte) (int, error) {
	n, err := unix.Read(s.fd, b)
	if err != nil {
		return 0, translateErrno(err)
	}
	return n, nil
}

func (s *UDPHostSocket) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if err != nil {
		return 0, translateErrno(err)
	}
	return n, nil
}

func (s *UDPHostSocket) FD() int { return s.fd }

func (s *UDPHostSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// icmpReadBufferLength is fixed at 512 bytes, sufficient for echo traffic
// (spec.md §4.1). spec.md §9 flags this as a known limitation — larger
// echo payloads would be truncated — and leaves the choice in place rather
// than growing it speculatively.
const icmpReadBufferLength = 512

// ipv4HeaderStripLength is the size of the IPv4 header the kernel
// prepends to every datagram delivered on a raw socket.
const ipv4HeaderStripLength = 20

// ICMPHostSocket is a raw ICMPv4 HostSocket, connected at the syscall
// level so reads filter to the peer and writes default to it (spec.md
// §4.1). Opening it requires CAP_NET_RAW.
type ICMPHostSocket struct {
	fd   int
	rbuf [icmpReadBufferLength]byte
}

// NewICMPHostSocket opens a raw ICMPv4 HostSocket connected to dst.
func NewICMPHostSocket(dst [4]byte) (*ICMPHostSocket, error) {
	fd, err := newConnectedSocket(unix.SOCK_RAW, unix.IPPROTO_ICMP, dst, 0)
	if err != nil {
		return nil, err
	}
	return &ICMPHostSocket{fd: fd}, nil
}

// Read strips the kernel-prepended 20-byte IPv4 header before delivering
// the ICMP payload to the caller (spec.md §4.1, §6 wire-observable
// behavior).
func (s *ICMPHostSocket) Read(b []byte) (int, error) {
	n, err := unix.Read(s.fd, s.rbuf[:])
	if err != nil {
		return 0, translateErrno(err)
	}
	if n <= ipv4HeaderStripLength {
		return 0, nil
	}
	return copy(b, s.rbuf[ipv4HeaderStripLength:n]), nil
}

// Write sends the ICMP message as-is; the kernel prepends the IPv4 header
// for a connected raw socket that has not set IP_HDRINCL.
func (s *ICMPHostSocket) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if err != nil {
		return 0, translateErrno(err)
	}
	return n, nil
}

func (s *ICMPHostSocket) FD() int { return s.fd }

func (s *ICMPHostSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
