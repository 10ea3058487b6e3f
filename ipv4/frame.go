// Package ipv4 implements parsing and building of IPv4 datagram headers, the
// datagram service the TCP and ICMP layers of this stack run over. It
// supports no IP options and no fragmentation, per the enclosing stack's
// Non-goals.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/juliusaf/usertcp"
)

const sizeHeader = 20

var errShortBuffer = errors.New("ipv4: short buffer")

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer is smaller than the fixed 20 byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw bytes of an IPv4 datagram and provides
// accessors for its header fields. See RFC 791.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created from.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns the header length in bytes, as given by the IHL field.
func (ifrm Frame) HeaderLength() int { return int(ifrm.ihl()) * 4 }

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// VersionAndIHL returns the version and IHL fields. Version is always 4 for a well-formed frame.
func (ifrm Frame) VersionAndIHL() (version, ihl uint8) {
	v := ifrm.buf[0]
	return v >> 4, v & 0xf
}

// SetVersionAndIHL sets the version and IHL header fields.
func (ifrm Frame) SetVersionAndIHL(version, ihl uint8) { ifrm.buf[0] = version<<4 | ihl&0xf }

// TotalLength returns the entire datagram size in bytes, header included.
func (ifrm Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(ifrm.buf[2:4]) }

// SetTotalLength sets the TotalLength field.
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID is used to uniquely identify a datagram; this stack assigns it per-outbound-packet but never fragments.
func (ifrm Frame) ID() uint16 { return binary.BigEndian.Uint16(ifrm.buf[4:6]) }

// SetID sets the ID field.
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// TTL returns the time-to-live field.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the TTL field.
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol returns the encapsulated protocol number (6 for TCP, 1 for ICMP).
func (ifrm Frame) Protocol() usertcp.IPProto { return usertcp.IPProto(ifrm.buf[9]) }

// SetProtocol sets the Protocol field.
func (ifrm Frame) SetProtocol(proto usertcp.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the header checksum field.
func (ifrm Frame) CRC() uint16 { return binary.BigEndian.Uint16(ifrm.buf[10:12]) }

// SetCRC sets the header checksum field.
func (ifrm Frame) SetCRC(cs uint16) { binary.BigEndian.PutUint16(ifrm.buf[10:12], cs) }

// CalculateHeaderCRC computes the IPv4 header checksum, treating the checksum field itself as zero.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc usertcp.CRC791
	crc.WriteEven(ifrm.buf[0:10])
	crc.WriteEven(ifrm.buf[12:20])
	return crc.Sum16()
}

// CRCWriteTCPPseudo folds the IPv4 pseudo-header used by the TCP checksum into crc:
// source address, destination address, zero byte, protocol, and TCP segment length.
func (ifrm Frame) CRCWriteTCPPseudo(crc *usertcp.CRC791) {
	crc.WriteEven(ifrm.SourceAddr()[:])
	crc.WriteEven(ifrm.DestinationAddr()[:])
	crc.AddUint16(ifrm.TotalLength() - 4*uint16(ifrm.ihl()))
	crc.AddUint16(uint16(ifrm.Protocol()))
}

// SourceAddr returns a pointer to the 4-byte source address field.
func (ifrm Frame) SourceAddr() *[4]byte { return (*[4]byte)(ifrm.buf[12:16]) }

// DestinationAddr returns a pointer to the 4-byte destination address field.
func (ifrm Frame) DestinationAddr() *[4]byte { return (*[4]byte)(ifrm.buf[16:20]) }

// Payload returns the datagram's payload, i.e. everything after the header up to TotalLength.
// Call ValidateSize first to avoid a panic on a malformed frame.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	l := ifrm.TotalLength()
	return ifrm.buf[off:l]
}

// ClearHeader zeros the fixed 20-byte header.
func (ifrm Frame) ClearHeader() {
	for i := range ifrm.buf[:sizeHeader] {
		ifrm.buf[i] = 0
	}
}

var (
	errBadTotalLength = errors.New("ipv4: total length exceeds buffer")
	errBadIHL         = errors.New("ipv4: IHL must be exactly 5 (no options supported)")
	errBadVersion     = errors.New("ipv4: bad version field, expected 4")
)

// ValidateSize checks the frame's size fields against the actual buffer length.
func (ifrm Frame) ValidateSize(v *usertcp.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if int(tl) < sizeHeader || int(tl) > len(ifrm.RawData()) {
		v.Record(errBadTotalLength)
	}
	if ihl != 5 {
		// This stack never emits or parses IP options.
		v.Record(errBadIHL)
	}
}

// ValidateExceptCRC validates size and version fields but does not verify the header checksum.
func (ifrm Frame) ValidateExceptCRC(v *usertcp.Validator) {
	ifrm.ValidateSize(v)
	if ifrm.version() != 4 {
		v.Record(errBadVersion)
	}
}

func (ifrm Frame) String() string {
	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	src := netip.AddrFrom4(*ifrm.SourceAddr())
	tl := int(ifrm.TotalLength())
	ttl := ifrm.TTL()
	id := ifrm.ID()
	proto := ifrm.Protocol()
	return fmt.Sprintf("IP %s %s->%s len=%d ttl=%d id=%d", proto, src, dst, tl, ttl, id)
}
