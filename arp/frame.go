package arp

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/ethernet"
)

// NewFrame returns a Frame with data set to buf. An error is returned if buf
// is shorter than the fixed 28-byte IPv4-over-Ethernet ARP packet.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{}, errShortARP
	}
	return Frame{buf: buf[:sizeHeaderv4]}, nil
}

// Frame encapsulates the raw bytes of an ARP packet resolving Ethernet
// hardware addresses to IPv4 protocol addresses. See RFC 826.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created from.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the hardware type field, 1 for Ethernet.
func (afrm Frame) Hardware() uint16 { return binary.BigEndian.Uint16(afrm.buf[0:2]) }

// SetHardware sets the hardware type field.
func (afrm Frame) SetHardware(htype uint16) { binary.BigEndian.PutUint16(afrm.buf[0:2], htype) }

// Protocol returns the protocol type field, the EtherType of the resolved protocol.
func (afrm Frame) Protocol() ethernet.Type {
	return ethernet.Type(binary.BigEndian.Uint16(afrm.buf[2:4]))
}

// SetProtocol sets the protocol type field.
func (afrm Frame) SetProtocol(t ethernet.Type) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(t))
}

// SetLengths sets the hardware and protocol address length fields, 6 and 4 for Ethernet/IPv4.
func (afrm Frame) SetLengths(hwlen, protolen uint8) {
	afrm.buf[4] = hwlen
	afrm.buf[5] = protolen
}

// Operation returns the ARP operation field.
func (afrm Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP operation field.
func (afrm Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// Sender returns the sender hardware and protocol addresses.
func (afrm Frame) Sender() (hwAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target returns the target hardware and protocol addresses.
func (afrm Frame) Target() (hwAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// ClearHeader zeros the fixed 8-byte header (hardware/protocol type, lengths, operation).
func (afrm Frame) ClearHeader() {
	for i := range afrm.buf[:sizeHeader] {
		afrm.buf[i] = 0
	}
}

// ValidateSize checks the frame buffer holds a complete IPv4-over-Ethernet ARP packet.
func (afrm Frame) ValidateSize(v *usertcp.Validator) {
	if len(afrm.buf) < sizeHeaderv4 {
		v.Record(errShortARP)
	}
}

func (afrm Frame) String() string {
	sndhw, sndpt := afrm.Sender()
	tgthw, tgtpt := afrm.Target()
	return fmt.Sprintf("ARP %s SENDER=%s@%s TARGET=%s@%s", afrm.Operation(),
		net.HardwareAddr(sndhw[:]), netip.AddrFrom4(*sndpt),
		net.HardwareAddr(tgthw[:]), netip.AddrFrom4(*tgtpt))
}
