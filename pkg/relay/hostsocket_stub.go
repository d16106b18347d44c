//go:build !linux

package relay

import "errors"

// ErrUnsupportedPlatform mirrors reactor.ErrUnsupportedPlatform: this
// relay's raw, non-blocking host sockets are only implemented for Linux
// (spec.md §9, "raw ICMP portability... implementations should gate ICMP
// support accordingly" — extended here to UDP too, since both must share
// one reactor to participate in the single-threaded poll loop).
var ErrUnsupportedPlatform = errors.New("relay: host sockets are only implemented on linux")

type UDPHostSocket struct{}

func NewUDPHostSocket(dst [4]byte, dstPort uint16) (*UDPHostSocket, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *UDPHostSocket) Read(b []byte) (int, error)  { return 0, ErrUnsupportedPlatform }
func (s *UDPHostSocket) Write(b []byte) (int, error) { return 0, ErrUnsupportedPlatform }
func (s *UDPHostSocket) FD() int                     { return -1 }
func (s *UDPHostSocket) Close() error                { return nil }

type ICMPHostSocket struct{}

func NewICMPHostSocket(dst [4]byte) (*ICMPHostSocket, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *ICMPHostSocket) Read(b []byte) (int, error)  { return 0, ErrUnsupportedPlatform }
func (s *ICMPHostSocket) Write(b []byte) (int, error) { return 0, ErrUnsupportedPlatform }
func (s *ICMPHostSocket) FD() int                     { return -1 }
func (s *ICMPHostSocket) Close() error                { return nil }
