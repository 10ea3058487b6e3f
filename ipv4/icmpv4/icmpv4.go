// Package icmpv4 implements ICMPv4 echo request/reply framing, used by the
// echo responder that answers pings directed at this stack's interface
// address.
package icmpv4

import (
	"encoding/binary"
	"errors"

	"github.com/juliusaf/usertcp"
)

// Type is the ICMPv4 message type field.
type Type uint8

const (
	TypeEchoReply Type = 0 // echo reply
	TypeEcho      Type = 8 // echo request

	TypeDestinationUnreachable Type = 3  // destination unreachable
	TypeRedirect               Type = 5  // redirect
	TypeTimeExceeded           Type = 11 // time exceeded
)

var errShortFrame = errors.New("icmpv4: short frame")

const sizeHeader = 8 // type, code, checksum, plus 4 bytes of echo identifier+sequence

// NewFrame returns a new Frame with data set to buf. An error is returned if
// buf is shorter than the fixed 8-byte echo header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw bytes of an ICMPv4 message. Only the subset of
// RFC 792 needed to answer echo requests is implemented; every other type is
// dropped unexamined by the responder.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created from.
func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) Type() Type     { return Type(frm.buf[0]) }
func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

func (frm Frame) Code() uint8        { return frm.buf[1] }
func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 { return binary.BigEndian.Uint16(frm.buf[2:4]) }

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) { binary.BigEndian.PutUint16(frm.buf[2:4], crc) }

// CRCWrite folds the whole ICMP message, checksum field included, into crc:
// for a validly-checksummed message this drives the running sum to the
// ones' complement of zero, so Sum16() comes out 0. Unlike TCP/UDP, ICMP
// has no pseudo-header.
func (frm Frame) CRCWrite(crc *usertcp.CRC791) {
	crc.WriteEven(frm.buf[0:2]) // type, code
	crc.AddUint16(frm.CRC())
	crc.WriteEven(frm.buf[4:])
}

// Echo reinterprets the frame as an echo request/reply, exposing the identifier and sequence fields.
type Echo struct{ Frame }

func (frm Echo) Identifier() uint16 { return binary.BigEndian.Uint16(frm.buf[4:6]) }
func (frm Echo) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(frm.buf[4:6], id)
}

func (frm Echo) SequenceNumber() uint16 { return binary.BigEndian.Uint16(frm.buf[6:8]) }
func (frm Echo) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(frm.buf[6:8], seq)
}

// Data returns the echo payload, the arbitrary bytes a ping sender asks to have echoed back.
func (frm Echo) Data() []byte { return frm.buf[8:] }
