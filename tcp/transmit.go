package tcp

import (
	"net/netip"
	"sync/atomic"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/ipv4"
)

// Tunables for the transmit path.
const (
	tcpSafeMTU    = 1400 // largest data chunk size this stack ever offers to a peer
	tcpDataOffset = 5    // 32-bit words; this stack emits no TCP options
	sizeIPHeader  = 20
	defaultTTL    = 64
)

// DatagramSender hands a fully-built IPv4 datagram addressed to daddr to the
// network. An implementation is expected to resolve the next-hop hardware
// address internally (retrying as it sees fit) before writing to the
// device; an error here means the datagram was never handed to it.
type DatagramSender func(daddr netip.Addr, datagram []byte) error

var ipIDCounter uint32

func nextIPID() uint16 { return uint16(atomic.AddUint32(&ipIDCounter, 1)) }

// buildDatagram lays out one complete IPv4 datagram carrying seg and
// payload over tuple, with the IP header checksum and the TCP checksum
// (over the pseudo-header, fixed header and payload) both computed. The
// returned slice is a fresh allocation owned by the caller.
func buildDatagram(tuple Tuple, seg Segment, payload []byte) []byte {
	total := sizeIPHeader + sizeHeaderTCP + len(payload)
	buf := make([]byte, total)

	ifrm, _ := ipv4.NewFrame(buf)
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(total))
	ifrm.SetID(nextIPID())
	ifrm.SetTTL(defaultTTL)
	ifrm.SetProtocol(usertcp.IPProtoTCP)
	*ifrm.SourceAddr() = tuple.LocalAddr.As4()
	*ifrm.DestinationAddr() = tuple.RemoteAddr.As4()
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	tfrm, _ := NewFrame(buf[sizeIPHeader:])
	tfrm.ClearHeader()
	tfrm.SetSourcePort(tuple.LocalPort)
	tfrm.SetDestinationPort(tuple.RemotePort)
	tfrm.SetSegment(seg, tcpDataOffset)
	copy(tfrm.Payload(), payload)

	var crc usertcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWriteHeader(&crc)
	tfrm.SetCRC(usertcp.NeverZeroChecksum(crc.PayloadSum16(payload)))

	return buf
}

// emit runs seg through the TCB's send-side bookkeeping, builds the
// datagram for seg/payload and hands it to c.output, pushing seg onto the
// retransmit queue first when it carries SYN, FIN or data — an ACK-only
// segment bypasses the queue since it is never itself retransmitted. It
// arms the RTO timer if the queue was empty before this push. Every
// segment this connection puts on the wire goes through here except
// Connect's opening SYN and the retransmissions sent by retransmit, so the
// TCB's view of snd.nxt and its own state transitions (e.g.
// ESTABLISHED->FIN-WAIT-1 on sending a FIN) stay in lockstep with what was
// actually sent. Caller must hold c.mu for writing.
func (c *Conn) emitLocked(seg Segment, payload []byte) error {
	if err := c.tcb.Send(seg); err != nil {
		return err
	}
	carriesQueueable := seg.Flags.HasAny(FlagSYN|FlagFIN) || seg.DATALEN > 0
	wasEmpty := c.sendQ.Empty()
	if carriesQueueable {
		c.sendQ.Push(seg.SEQ, seg.Flags, payload)
	}
	datagram := buildDatagram(c.tuple, seg, payload)
	daddr := c.tuple.RemoteAddr
	err := c.output(daddr, datagram)
	if err != nil {
		return err
	}
	if carriesQueueable && wasEmpty {
		c.timer.Arm(c.retransmit)
	}
	return nil
}

// retransmit is the RTO timer's callback: it re-sends the head of the
// retransmit queue verbatim, rebinding the outer ack/window fields fresh
// from the current TCB on every firing rather than ever reusing a stale
// snapshot — repeating that original C mistake here would silently freeze
// the advertised window on every retransmitted segment.
func (c *Conn) retransmit() {
	c.mu.Lock()
	seg, ok := c.sendQ.Oldest()
	if !ok {
		c.mu.Unlock()
		return
	}
	synSent := c.tcb.State() == StateSynSent
	retries, exceeded := c.timer.Fired(synSent)
	if exceeded {
		c.timer.Cancel()
		c.err = ErrTimedOut
		c.mu.Unlock()
		c.stateCond.L.Lock()
		c.stateCond.Broadcast()
		c.stateCond.L.Unlock()
		c.ackCond.L.Lock()
		c.ackCond.Broadcast()
		c.ackCond.L.Unlock()
		return
	}

	c.metrics.retransmit()

	// Window and ack are re-read from the live TCB, never from the stale
	// segment that was originally enqueued. Flags are re-emitted exactly as
	// first sent: the original SYN (SYN_SENT has no established rcv.NXT
	// yet) must go out bare, not as a malformed SYN+ACK with ack=0.
	resend := Segment{
		SEQ:     seg.seq,
		ACK:     c.tcb.RecvNext(),
		WND:     c.tcb.RecvWindow(),
		Flags:   seg.flags,
		DATALEN: Size(len(seg.data)),
	}
	datagram := buildDatagram(c.tuple, resend, seg.data)
	daddr := c.tuple.RemoteAddr
	c.log.Debug("tcp: retransmit", "seq", seg.seq, "retries", retries, "rto", c.timer.RTO())
	c.mu.Unlock()

	if err := c.output(daddr, datagram); err != nil {
		c.log.Error("tcp: retransmit send failed", "err", err)
	}
	c.timer.Arm(c.retransmit)
}
