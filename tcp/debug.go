package tcp

// logTrace/logDebug/logError funnel ControlBlock's state-transition and
// segment-reject logging through the embedded *usertcp.Logger, matching the
// nil-safe call-without-checking style used throughout this stack.

func (tcb *ControlBlock) traceSnd(msg string) {
	tcb.log.Trace(msg, "state", tcb._state.String(),
		"snd.nxt", tcb.snd.NXT, "snd.una", tcb.snd.UNA, "snd.wnd", tcb.snd.WND)
}

func (tcb *ControlBlock) traceRcv(msg string) {
	tcb.log.Trace(msg, "state", tcb._state.String(),
		"rcv.nxt", tcb.rcv.NXT, "rcv.wnd", tcb.rcv.WND, "challenge", tcb.challengeAck)
}

func (tcb *ControlBlock) traceSeg(msg string, seg Segment) {
	tcb.log.Trace(msg, "seg.seq", seg.SEQ, "seg.ack", seg.ACK,
		"seg.wnd", seg.WND, "seg.flags", seg.Flags.String(), "seg.data", seg.DATALEN)
}
