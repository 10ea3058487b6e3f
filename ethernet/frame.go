package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/juliusaf/usertcp"
)

var errShort = errors.New("ethernet: frame shorter than 14 byte header")

// NewFrame returns a Frame with data set to buf. An error is returned if
// buf is shorter than the fixed 14-byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw bytes of an Ethernet II frame, destination
// address first, with no preamble and no frame check sequence.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created from.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the fixed header length, 14 bytes.
func (efrm Frame) HeaderLength() int { return sizeHeader }

// Payload returns everything following the 14-byte header.
func (efrm Frame) Payload() []byte { return efrm.buf[sizeHeader:] }

// DestinationHardwareAddr returns the destination MAC address field.
func (efrm Frame) DestinationHardwareAddr() *[6]byte { return (*[6]byte)(efrm.buf[0:6]) }

// SourceHardwareAddr returns the source MAC address field.
func (efrm Frame) SourceHardwareAddr() *[6]byte { return (*[6]byte)(efrm.buf[6:12]) }

// IsBroadcast reports whether the destination address is the broadcast address.
func (efrm Frame) IsBroadcast() bool {
	dst := efrm.DestinationHardwareAddr()
	return *dst == BroadcastAddr()
}

// EtherType returns the EtherType field.
func (efrm Frame) EtherType() Type { return Type(binary.BigEndian.Uint16(efrm.buf[12:14])) }

// SetEtherType sets the EtherType field.
func (efrm Frame) SetEtherType(t Type) { binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(t)) }

// ClearHeader zeros out the fixed header.
func (efrm Frame) ClearHeader() {
	for i := range efrm.buf[:sizeHeader] {
		efrm.buf[i] = 0
	}
}

// ValidateSize checks the frame is at least as long as its fixed header.
func (efrm Frame) ValidateSize(v *usertcp.Validator) {
	if len(efrm.buf) < sizeHeader {
		v.Record(errShort)
	}
}
