package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/juliusaf/usertcp"
)

const sizeHeaderTCP = 20

var errShortBuffer = errors.New("tcp: buffer shorter than 20 byte header")

// NewFrame returns a Frame with data set to buf. An error is returned if
// buf is shorter than the fixed 20-byte header. Call ValidateSize before
// using Payload/Options to avoid a panic on a malformed frame.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderTCP {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw bytes of a TCP segment. See RFC 9293.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the frame was created from.
func (tfrm Frame) RawData() []byte { return tfrm.buf }

func (tfrm Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[0:2]) }
func (tfrm Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[0:2], p) }

func (tfrm Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(tfrm.buf[2:4]) }
func (tfrm Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(tfrm.buf[2:4], p) }

// Seq returns the sequence number of the segment's first octet (its ISN if SYN is set).
func (tfrm Frame) Seq() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[4:8])) }
func (tfrm Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(tfrm.buf[4:8], uint32(v)) }

// Ack is the next sequence number the sender expects to receive, valid only if ACK is set.
func (tfrm Frame) Ack() Value { return Value(binary.BigEndian.Uint32(tfrm.buf[8:12])) }
func (tfrm Frame) SetAck(v Value) { binary.BigEndian.PutUint32(tfrm.buf[8:12], uint32(v)) }

// OffsetAndFlags returns the data offset (header length in 32-bit words) and control flags.
func (tfrm Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(tfrm.buf[12:14])
	return uint8(v >> 12), Flags(v).Mask()
}

func (tfrm Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags.Mask())
	binary.BigEndian.PutUint16(tfrm.buf[12:14], v)
}

// HeaderLength returns the header length in bytes, options included, derived
// from the data-offset field. Performs no validation.
func (tfrm Frame) HeaderLength() int {
	offset, _ := tfrm.OffsetAndFlags()
	return 4 * int(offset)
}

func (tfrm Frame) WindowSize() uint16     { return binary.BigEndian.Uint16(tfrm.buf[14:16]) }
func (tfrm Frame) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(tfrm.buf[14:16], v) }

func (tfrm Frame) CRC() uint16         { return binary.BigEndian.Uint16(tfrm.buf[16:18]) }
func (tfrm Frame) SetCRC(crc uint16)   { binary.BigEndian.PutUint16(tfrm.buf[16:18], crc) }

func (tfrm Frame) UrgentPtr() uint16      { return binary.BigEndian.Uint16(tfrm.buf[18:20]) }
func (tfrm Frame) SetUrgentPtr(up uint16) { binary.BigEndian.PutUint16(tfrm.buf[18:20], up) }

// Payload returns the data following the header and options. Call
// ValidateSize first to avoid a panic on a malformed frame.
func (tfrm Frame) Payload() []byte { return tfrm.buf[tfrm.HeaderLength():] }

// Options returns the TCP options byte range, possibly zero length.
func (tfrm Frame) Options() []byte { return tfrm.buf[sizeHeaderTCP:tfrm.HeaderLength()] }

// Segment reinterprets the frame's header fields as a Segment, with
// DATALEN set to payloadSize (the caller is expected to have already
// determined how much payload follows the header, e.g. from the
// enclosing IPv4 datagram's total length).
func (tfrm Frame) Segment(payloadSize int) Segment {
	if payloadSize > math.MaxInt32 {
		panic("tcp: payload size overflow")
	}
	_, flags := tfrm.OffsetAndFlags()
	return Segment{
		SEQ:     tfrm.Seq(),
		ACK:     tfrm.Ack(),
		WND:     Size(tfrm.WindowSize()),
		DATALEN: Size(payloadSize),
		Flags:   flags,
	}
}

// SetSegment writes seg's sequence, ack, flags and window fields into the
// frame's header, with a data offset of offset 32-bit words (minimum 5).
func (tfrm Frame) SetSegment(seg Segment, offset uint8) {
	if offset >= 1<<4 {
		panic("tcp: offset too large")
	} else if seg.WND > math.MaxUint16 {
		panic("tcp: window overflow")
	}
	tfrm.SetSeq(seg.SEQ)
	tfrm.SetAck(seg.ACK)
	tfrm.SetOffsetAndFlags(offset, seg.Flags)
	tfrm.SetWindowSize(uint16(seg.WND))
}

// ClearHeader zeros the fixed 20-byte header.
func (tfrm Frame) ClearHeader() {
	for i := range tfrm.buf[:sizeHeaderTCP] {
		tfrm.buf[i] = 0
	}
}

// CRCWriteHeader folds the fixed 20-byte TCP header, checksum field
// included, into crc; the caller is still responsible for folding the
// pseudo-header (ipv4.Frame.CRCWriteTCPPseudo) and the payload.
func (tfrm Frame) CRCWriteHeader(crc *usertcp.CRC791) {
	crc.WriteEven(tfrm.buf[0:16])
	crc.AddUint16(tfrm.CRC())
	crc.WriteEven(tfrm.buf[18:20])
}

func (tfrm Frame) String() string {
	seg := tfrm.Segment(len(tfrm.Payload()))
	return fmt.Sprintf("TCP :%d -> :%d <SEQ=%d><ACK=%d><WND=%d>%s",
		tfrm.SourcePort(), tfrm.DestinationPort(), seg.SEQ, seg.ACK, seg.WND, seg.Flags)
}

var (
	errBadOffset      = errors.New("tcp: data offset shorter than fixed header or exceeds buffer")
	errZeroSourcePort = errors.New("tcp: zero source port")
	errZeroDestPort   = errors.New("tcp: zero destination port")
)

// ValidateSize checks the frame's data-offset field against the actual buffer length.
func (tfrm Frame) ValidateSize(v *usertcp.Validator) {
	off := tfrm.HeaderLength()
	if off < sizeHeaderTCP || off > len(tfrm.RawData()) {
		v.Record(errBadOffset)
	}
}

// ValidateExceptCRC validates size and port fields but does not verify the checksum.
func (tfrm Frame) ValidateExceptCRC(v *usertcp.Validator) {
	tfrm.ValidateSize(v)
	if tfrm.DestinationPort() == 0 {
		v.Record(errZeroDestPort)
	}
	if tfrm.SourcePort() == 0 {
		v.Record(errZeroSourcePort)
	}
}
