// Package ethernet implements the minimal Ethernet II framing needed to
// carry ARP and IPv4 over the TAP device this stack attaches to. 802.1Q
// VLAN tags and frame check sequence calculation are not implemented: the
// TAP character device delivers and accepts frames without an FCS, and
// this stack never runs behind a VLAN trunk.
package ethernet

import "strconv"

const sizeHeader = 14 // dst(6) + src(6) + ethertype(2)

// AppendAddr appends the colon-separated hex text representation of a
// hardware address to dst.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// BroadcastAddr returns the all-ones broadcast hardware address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// Type is the EtherType field identifying the payload protocol.
type Type uint16

const (
	TypeIPv4 Type = 0x0800
	TypeARP  Type = 0x0806
	TypeIPv6 Type = 0x86DD
)

func (t Type) String() string {
	switch t {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeIPv6:
		return "IPv6"
	default:
		return "0x" + strconv.FormatUint(uint64(t), 16)
	}
}
