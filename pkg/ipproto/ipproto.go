// Package ipproto defines the small set of IP protocol numbers this relay
// understands, mirroring the constants Telepresence's connpool package
// keys its ConnID by (TCP, UDP) and extending them with the ICMP case
// this relay also terminates.
package ipproto

import "strconv"

// Protocol numbers as assigned by IANA and used in the IPv4 header's
// Protocol field.
const (
	ICMP = 1
	TCP  = 6
	UDP  = 17
)

// Name returns a short lower-case protocol name suitable for logging, e.g.
// "udp". Unknown protocols are rendered as "ip-proto-<n>".
func Name(proto int) string {
	switch proto {
	case ICMP:
		return "icmp"
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "ip-proto-" + strconv.Itoa(proto)
	}
}
