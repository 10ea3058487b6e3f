package usertcp

// IPProto identifies the IPv4 protocol field carried in each datagram header,
// used to dispatch a received packet to the TCP or ICMP receive path.
type IPProto uint8

// IP protocol numbers relevant to this stack. The full IANA registry is not
// reproduced: ICMP and TCP are the protocols this stack's IP/ICMP adapter
// dispatches on; IGMP and UDP are named only so String can label them.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoIGMP IPProto = 2  // Internet Group Management [RFC1112]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoIGMP:
		return "IGMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}
