package tcp

import (
	"io"
	"math"
	"net"

	"github.com/juliusaf/usertcp"
)

// ControlBlock is a Transmission Control Block as per RFC 9293 section
// 3.3.1, restricted to sequential (in-order) segment delivery: out-of-order
// segments are rejected rather than buffered, matching this stack's
// single-reader TAP loop and simplifying buffer management to a plain FIFO
// in the layer above (see Conn's receive queue).
//
// ControlBlock owns only sequence-number bookkeeping and state transitions;
// it neither holds payload bytes nor performs I/O.
type ControlBlock struct {
	snd sendSpace
	rcv recvSpace

	// rstPtr holds the sequence number an outgoing RST must carry to be
	// believable to the remote per RFC 9293's guidance on RST sequencing.
	rstPtr Value

	// pending holds up to two queued control segments: the next segment to
	// send, and (during close) a FIN queued to follow it.
	pending [2]Flags

	_state       State
	challengeAck bool
	log          *usertcp.Logger
}

// State returns the current state of the connection.
func (tcb *ControlBlock) State() State { return tcb._state }

// RecvNext returns the next sequence number expected from the remote.
func (tcb *ControlBlock) RecvNext() Value { return tcb.rcv.NXT }

// RecvWindow returns the locally advertised receive window.
func (tcb *ControlBlock) RecvWindow() Size { return tcb.rcv.WND }

// ISS returns the initial send sequence number chosen when the connection was opened.
func (tcb *ControlBlock) ISS() Value { return tcb.snd.ISS }

// SendNext returns the next sequence number this side will send.
func (tcb *ControlBlock) SendNext() Value { return tcb.snd.NXT }

// SendUNA returns the oldest sequence number sent but not yet acknowledged.
func (tcb *ControlBlock) SendUNA() Value { return tcb.snd.UNA }

// SendWindow returns the peer's last advertised window.
func (tcb *ControlBlock) SendWindow() Size { return tcb.snd.WND }

// UsableSendWindow returns the number of bytes that may still be sent
// without exceeding the peer's advertised window: (snd.una+snd.wnd)-snd.nxt.
func (tcb *ControlBlock) UsableSendWindow() Size { return tcb.snd.maxSend() }

// SetRecvWindow sets the locally advertised receive window, e.g. as the
// receive queue drains and frees buffer space.
func (tcb *ControlBlock) SetRecvWindow(wnd Size) { tcb.rcv.WND = wnd }

// SetLogger attaches a logger; a nil logger is valid and silences all tracing.
func (tcb *ControlBlock) SetLogger(log *usertcp.Logger) { tcb.log = log }

// sendSpace is RFC 9293's Send Sequence Space: sequence numbers of local (outgoing) data.
//
//	     1         2          3          4
//	----------|----------|----------|----------
//	       SND.UNA    SND.NXT    SND.UNA+SND.WND
//	1. old, acknowledged  2. unacknowledged  3. usable for new data  4. not yet allowed
type sendSpace struct {
	ISS Value
	UNA Value
	NXT Value
	WND Size
}

func (snd *sendSpace) inFlight() Size  { return Sizeof(snd.UNA, snd.NXT) }
func (snd *sendSpace) maxSend() Size   { return snd.WND - snd.inFlight() }

// recvSpace is RFC 9293's Receive Sequence Space: sequence numbers of remote (incoming) data.
type recvSpace struct {
	IRS Value
	NXT Value
	WND Size
}

// Open performs a passive open: the ControlBlock enters LISTEN and waits
// for an incoming SYN. An active open is instead driven by calling Send
// with a segment built by ClientSynSegment.
func (tcb *ControlBlock) Open(iss Value, wnd Size) error {
	switch {
	case tcb._state != StateClosed && tcb._state != StateListen:
		return errTCBNotClosed
	case wnd > math.MaxUint16:
		return errWindowTooLarge
	}
	tcb._state = StateListen
	tcb.prepareToHandshake(iss, wnd)
	tcb.log.Trace("tcb: open-passive")
	return nil
}

func (tcb *ControlBlock) prepareToHandshake(iss Value, wnd Size) {
	tcb.resetRcv(wnd, 0)
	tcb.resetSnd(iss, 1)
	tcb.pending = [2]Flags{}
}

// HasPending reports whether a control segment is queued to be sent.
func (tcb *ControlBlock) HasPending() bool { return tcb.pending[0] != 0 }

// PendingSegment computes the next segment to send, given up to payloadLen
// bytes of data available to piggyback. Apart from consuming a queued
// challenge ACK it does not mutate TCB state; a successful call to Send
// with the returned segment advances the pending queue.
func (tcb *ControlBlock) PendingSegment(payloadLen int) (_ Segment, ok bool) {
	if tcb.challengeAck {
		tcb.challengeAck = false
		return Segment{SEQ: tcb.snd.NXT, ACK: tcb.rcv.NXT, Flags: FlagACK, WND: tcb.rcv.WND}, true
	}
	pending := tcb.pending[0]
	established := tcb._state == StateEstablished
	if !established && tcb._state != StateCloseWait {
		payloadLen = 0
	}
	if pending == 0 && payloadLen == 0 {
		return Segment{}, false
	}

	maxPayload := tcb.snd.maxSend()
	if payloadLen > int(maxPayload) {
		if maxPayload == 0 && !tcb.pending[0].HasAny(FlagFIN|FlagRST|FlagSYN) {
			return Segment{}, false
		}
		payloadLen = int(maxPayload)
	}

	if established {
		pending |= FlagACK
	} else {
		payloadLen = 0
	}

	var ack Value
	if pending.HasAny(FlagACK) {
		ack = tcb.rcv.NXT
	}

	seq := tcb.snd.NXT
	if pending.HasAny(FlagRST) {
		seq = tcb.rstPtr
	}

	seg := Segment{SEQ: seq, ACK: ack, WND: tcb.rcv.WND, Flags: pending, DATALEN: Size(payloadLen)}
	tcb.traceSeg("tcb: pending-out", seg)
	return seg, true
}

// Recv processes a segment arriving from the network, updating TCB state
// if it is admissible. seg.DATALEN must already reflect how much payload
// was actually delivered to the caller's receive queue: ControlBlock
// advances rcv.NXT by exactly seg.LEN() once per call, counting SYN/FIN and
// payload together, never incrementing it a second time for the FIN bit.
func (tcb *ControlBlock) Recv(seg Segment) error {
	if err := tcb.validateIncomingSegment(seg); err != nil {
		tcb.traceRcv("tcb: rcv-reject")
		tcb.traceSeg("tcb: rcv-reject", seg)
		return err
	}

	var pending Flags
	var err error
	switch tcb._state {
	case StateListen:
		pending, err = tcb.rcvListen(seg)
	case StateSynSent:
		pending, err = tcb.rcvSynSent(seg)
	case StateSynRcvd:
		pending, err = tcb.rcvSynRcvd(seg)
	case StateEstablished:
		pending, err = tcb.rcvEstablished(seg)
	case StateFinWait1:
		pending, err = tcb.rcvFinWait1(seg)
	case StateFinWait2:
		pending, err = tcb.rcvFinWait2(seg)
	case StateCloseWait:
		// Remote has nothing further to say once it has sent its FIN; any
		// further ACKs here are pure duplicates, already filtered above.
	case StateLastAck:
		if seg.Flags.HasAny(FlagACK) {
			tcb.close()
		}
	case StateClosing:
		if seg.Flags.HasAny(FlagACK) {
			tcb._state = StateTimeWait
		}
	default:
		panic("tcp: unexpected recv state " + tcb._state.String())
	}
	if err != nil {
		return err
	}

	tcb.pending[0] |= pending
	tcb.snd.WND = seg.WND
	if seg.Flags.HasAny(FlagACK) {
		tcb.snd.UNA = seg.ACK
	}
	// rcv.NXT is advanced exactly once here, by the segment's full length
	// (payload plus SYN/FIN); per-state handlers above must never also
	// advance it themselves.
	tcb.rcv.NXT.UpdateForward(seg.LEN())

	tcb.traceRcv("tcb: rcv")
	tcb.traceSeg("tcb: rcv", seg)
	return nil
}

// Send processes a segment being sent to the network, updating TCB state
// if it is admissible.
func (tcb *ControlBlock) Send(seg Segment) error {
	if err := tcb.validateOutgoingSegment(seg); err != nil {
		tcb.traceSnd("tcb: snd-reject")
		tcb.traceSeg("tcb: snd-reject", seg)
		return err
	}

	hasFIN := seg.Flags.HasAny(FlagFIN)
	hasACK := seg.Flags.HasAny(FlagACK)
	var newPending Flags
	switch tcb._state {
	case StateClosed:
		if seg.Flags == FlagSYN {
			tcb._state = StateSynSent
			tcb.prepareToHandshake(seg.SEQ, seg.WND)
			tcb.log.Trace("tcb: open-active")
		}
	case StateSynRcvd:
		if hasFIN {
			tcb._state = StateFinWait1
		}
	case StateClosing:
		if hasACK {
			tcb._state = StateTimeWait
		}
	case StateEstablished:
		if hasFIN {
			tcb._state = StateFinWait1
		}
	case StateCloseWait:
		if hasFIN {
			tcb._state = StateLastAck
		} else if hasACK {
			newPending = finack
		}
	}

	tcb.pending[0] &^= seg.Flags
	if tcb.pending[0] == 0 {
		tcb.pending = [2]Flags{tcb.pending[1] &^ (seg.Flags & FlagFIN), 0}
	}
	tcb.pending[0] |= newPending

	tcb.snd.NXT.UpdateForward(seg.LEN())
	tcb.rcv.WND = seg.WND

	tcb.traceSnd("tcb: snd")
	tcb.traceSeg("tcb: snd", seg)
	return nil
}

func (tcb *ControlBlock) validateOutgoingSegment(seg Segment) error {
	hasAck := seg.Flags.HasAny(FlagACK)
	isFirst := tcb._state == StateClosed && seg.isFirstSYN()
	checkSeq := !isFirst && !seg.Flags.HasAny(FlagRST)
	seglast := seg.Last()
	zeroWindowOK := tcb.snd.WND == 0 && seg.DATALEN == 0 && seg.SEQ == tcb.snd.NXT
	outOfWindow := checkSeq && !seg.SEQ.InWindow(tcb.snd.NXT, tcb.snd.WND) && !zeroWindowOK

	switch {
	case tcb._state == StateClosed && !isFirst:
		return io.ErrClosedPipe
	case seg.WND > math.MaxUint16:
		return errWindowTooLarge
	case hasAck && seg.ACK != tcb.rcv.NXT:
		return errAckNotNext
	case outOfWindow:
		if tcb.snd.WND == 0 {
			return errZeroWindow
		}
		return errSeqNotInWindow
	case seg.DATALEN > 0 && (tcb._state == StateFinWait1 || tcb._state == StateFinWait2):
		return errConnectionClosing
	case checkSeq && tcb.snd.WND == 0 && seg.DATALEN > 0 && seg.SEQ == tcb.snd.NXT:
		return errZeroWindow
	case checkSeq && !seglast.InWindow(tcb.snd.NXT, tcb.snd.WND) && !zeroWindowOK:
		return errLastNotInWindow
	}
	return nil
}

func (tcb *ControlBlock) validateIncomingSegment(seg Segment) error {
	flags := seg.Flags
	hasAck := flags.HasAll(FlagACK)
	checkSEQ := !flags.HasAny(FlagSYN)
	established := tcb._state == StateEstablished
	preestablished := tcb._state.IsPreestablished()
	acksOld := hasAck && !tcb.snd.UNA.LessThan(seg.ACK)
	acksUnsentData := hasAck && !seg.ACK.LessThanEq(tcb.snd.NXT)
	ctlOrDataSegment := established && (seg.DATALEN > 0 || flags.HasAny(FlagFIN|FlagRST))
	zeroWindowOK := tcb.rcv.WND == 0 && seg.DATALEN == 0 && seg.SEQ == tcb.rcv.NXT

	var err error
	illegalSeq := false
	switch {
	case seg.WND > math.MaxUint16:
		err = errWindowOverflow
	case tcb._state == StateClosed:
		err = io.ErrClosedPipe
	case checkSEQ && tcb.rcv.WND == 0 && seg.DATALEN > 0 && seg.SEQ == tcb.rcv.NXT:
		err, illegalSeq = errZeroWindow, true
	case checkSEQ && !seg.SEQ.InWindow(tcb.rcv.NXT, tcb.rcv.WND) && !zeroWindowOK:
		err, illegalSeq = errSeqNotInWindow, true
	case checkSEQ && !seg.Last().InWindow(tcb.rcv.NXT, tcb.rcv.WND) && !zeroWindowOK:
		err, illegalSeq = errLastNotInWindow, true
	case checkSEQ && seg.SEQ != tcb.rcv.NXT:
		err, illegalSeq = errRequireSequential, true
	}
	if err != nil {
		if illegalSeq {
			// RFC 9293 sequence legality: an unacceptable segment gets an
			// immediate corrective ACK carrying our current rcv.nxt, then
			// is dropped — never silently ignored.
			tcb.pending[0] |= FlagACK
		}
		return err
	}
	if flags.HasAny(FlagRST) {
		return tcb.handleRST(seg.SEQ)
	}

	switch {
	case established && acksOld && !ctlOrDataSegment:
		tcb.pending[0] &= FlagFIN
		tcb.log.Debug("tcb: dup ack", "state", tcb._state.String(), "seg.ack", seg.ACK, "snd.una", tcb.snd.UNA)
		return errDropSegment
	case established && acksUnsentData:
		tcb.pending[0] = FlagACK
		tcb.log.Debug("tcb: ack unsent", "state", tcb._state.String(), "seg.ack", seg.ACK, "snd.nxt", tcb.snd.NXT)
		return errDropSegment
	case preestablished && (acksOld || acksUnsentData):
		tcb.pending[0] = FlagRST
		tcb.rstPtr = seg.ACK
		tcb.resetSnd(tcb.snd.ISS, seg.WND)
		tcb.log.Debug("tcb: rst old ack", "state", tcb._state.String(), "ack", seg.ACK)
		return errDropSegment
	}
	return nil
}

func (tcb *ControlBlock) resetSnd(localISS Value, remoteWND Size) {
	tcb.snd = sendSpace{ISS: localISS, UNA: localISS, NXT: localISS, WND: remoteWND}
}

func (tcb *ControlBlock) resetRcv(localWND Size, remoteISS Value) {
	tcb.rcv = recvSpace{IRS: remoteISS, NXT: remoteISS, WND: localWND}
}

func (tcb *ControlBlock) handleRST(seq Value) error {
	tcb.log.Debug("tcb: rst", "state", tcb._state.String())
	if seq != tcb.rcv.NXT {
		// RFC 9293: an RST within the window but not exactly at rcv.NXT
		// gets a challenge ACK instead of being honored outright.
		tcb.challengeAck = true
		tcb.pending[0] |= FlagACK
		return errDropSegment
	}
	if tcb._state.IsPreestablished() {
		tcb.pending[0] = 0
		tcb._state = StateListen
		tcb.resetSnd(tcb.snd.ISS+100, tcb.snd.WND)
		tcb.resetRcv(tcb.rcv.WND, tcb.rcv.IRS)
	} else {
		tcb.close()
		return net.ErrClosed
	}
	return errDropSegment
}

func (tcb *ControlBlock) close() {
	tcb._state = StateClosed
	tcb.pending = [2]Flags{}
	tcb.resetRcv(0, 0)
	tcb.resetSnd(0, 0)
	tcb.log.Debug("tcb: close")
}

// Close initiates a passive or active close: on a connection with an open
// remote end it queues a FIN to be sent (or, from CLOSE-WAIT, transitions
// directly to LAST-ACK so the FIN and its ACK are both sent — the local
// user has no further data to send once CLOSE is called, per RFC 9293
// section 3.10.4). Close does not itself block; Conn.Close blocks on top
// of it until the TCB reaches CLOSED or TIME-WAIT.
func (tcb *ControlBlock) Close() error {
	var err error
	switch tcb._state {
	case StateClosed:
		err = errConnNotexist
	case StateCloseWait:
		tcb._state = StateLastAck
		tcb.pending = [2]Flags{FlagFIN | FlagACK, 0}
	case StateListen, StateSynSent:
		tcb.close()
	case StateSynRcvd, StateEstablished:
		tcb.pending[0] = (tcb.pending[0] & FlagACK) | FlagFIN
	case StateFinWait1, StateFinWait2:
		// Already closing on our side; a second Close is idempotent.
	case StateClosing, StateLastAck, StateTimeWait:
		err = errConnectionClosing
	default:
		err = errInvalidState
	}
	if err == nil {
		tcb.log.Trace("tcb: close", "state", tcb._state.String())
	} else {
		tcb.log.Error("tcb: close", "err", err)
	}
	return err
}
