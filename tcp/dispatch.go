package tcp

import (
	"errors"
	"net/netip"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/ipv4"
)

// asRejectError reports whether err is this package's RejectError, the
// marker for a segment dropped because of its sequence number rather than
// for some other reason (a duplicate ACK, an RST, a closed connection).
func asRejectError(err error) bool {
	var reject *RejectError
	return errors.As(err, &reject)
}

var (
	errChecksum = errors.New("tcp: checksum mismatch")
	errNoConn   = errors.New("tcp: no connection matches tuple")
)

// Dispatch is the entry point for an inbound TCP segment, implementing the
// receive dispatch's first three steps: verify the checksum over the
// pseudo-header plus segment, look up the owning connection by 4-tuple
// (flipping the packet's source/destination into local/remote
// orientation), and hand the segment to it. A bad checksum or an unmatched
// tuple is dropped silently, per this stack's receive-path error policy —
// nothing is ever reported back to the peer for either.
func Dispatch(table *Table, ifrm ipv4.Frame, tfrm Frame) error {
	payload := tfrm.Payload()
	var crc usertcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWriteHeader(&crc)
	if crc.PayloadSum16(payload) != 0 {
		return errChecksum
	}

	tuple := Tuple{
		LocalAddr:  netip.AddrFrom4(*ifrm.DestinationAddr()),
		LocalPort:  tfrm.DestinationPort(),
		RemoteAddr: netip.AddrFrom4(*ifrm.SourceAddr()),
		RemotePort: tfrm.SourcePort(),
	}
	conn := table.LookupTuple(tuple)
	if conn == nil {
		return errNoConn
	}
	return conn.deliver(tfrm.Segment(len(payload)), payload)
}

// deliver feeds one already-checksum-verified, tuple-matched segment into
// the connection: it acquires the write lock, runs it through the TCB,
// queues any in-order payload for the application, trims the retransmit
// queue past whatever the ACK now covers, and sends any corrective or
// state-driven control segment the TCB queued in response — including the
// immediate ACK RFC 9293 requires for an otherwise-dropped illegal
// sequence, queued by the TCB even though Recv itself reports an error for
// that case.
func (c *Conn) deliver(seg Segment, payload []byte) error {
	c.mu.Lock()
	prevUNA := c.tcb.SendUNA()
	recvErr := c.tcb.Recv(seg)
	if recvErr == nil && seg.DATALEN > 0 {
		c.rcvQ.Push(append([]byte(nil), payload...))
		c.tcb.SetRecvWindow(c.tcb.RecvWindow() - Size(len(payload)))
		c.metrics.bytesReceived(len(payload))
	}
	if asRejectError(recvErr) {
		c.metrics.illegalSegment()
	}
	if newUNA := c.tcb.SendUNA(); newUNA != prevUNA {
		c.sendQ.RecvACK(newUNA)
		if c.sendQ.Empty() {
			c.timer.Cancel()
			c.timer.Reset()
		}
	}
	pending, hasPending := c.tcb.PendingSegment(0)
	c.mu.Unlock()

	c.broadcastState()
	c.broadcastAck()

	if hasPending {
		c.mu.Lock()
		sendErr := c.emitLocked(pending, nil)
		c.mu.Unlock()
		if sendErr != nil {
			c.log.Error("tcp: pending segment send failed", "err", sendErr)
		}
	}
	return recvErr
}
