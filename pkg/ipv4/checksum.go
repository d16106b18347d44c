package ipv4

import "encoding/binary"

// checksum computes the Internet checksum (RFC 1071) over b. It is used for
// the IPv4 header checksum and the ICMP message checksum; the UDP checksum
// goes through checksumWithPseudoHeader instead.
//
// Grounded on the one's-complement fold in
// malbeclabs-doublezero/tools/uping/pkg/uping/listener.go's onesComplement16.
func checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// checksumWithPseudoHeader folds the UDP pseudo-header (src, dst, zero,
// protocol, UDP length) together with the UDP header+payload into one
// Internet checksum, per RFC 768 / RFC 793 §3.1.
func checksumWithPseudoHeader(src, dst [4]byte, proto byte, segment []byte) uint16 {
	var sum uint32
	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(b[i:]))
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}
	add(src[:])
	add(dst[:])
	sum += uint32(proto)
	sum += uint32(len(segment))
	add(segment)
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	c := ^uint16(sum)
	if c == 0 {
		// RFC 768: an all-zero computed checksum is transmitted as all-ones.
		c = 0xFFFF
	}
	return c
}
