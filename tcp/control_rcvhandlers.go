package tcp

// Per-state receive handlers. Each returns the control flags Recv should
// queue as pending output; none of them advance rcv.NXT themselves — Recv
// does that exactly once, after the state transition, from seg.LEN().

func (tcb *ControlBlock) rcvListen(seg Segment) (pending Flags, err error) {
	if !seg.Flags.HasAll(FlagSYN) {
		return 0, errExpectedSYN
	}
	tcb.resetSnd(tcb.snd.ISS, seg.WND)
	tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	tcb.pending[0] = synack
	tcb._state = StateSynRcvd
	return synack, nil
}

func (tcb *ControlBlock) rcvSynSent(seg Segment) (pending Flags, err error) {
	hasSyn := seg.Flags.HasAny(FlagSYN)
	hasAck := seg.Flags.HasAny(FlagACK)
	switch {
	case !hasSyn:
		return 0, errExpectedSYN
	case hasAck && seg.ACK != tcb.snd.UNA+1:
		return 0, errBadSegack
	}

	if hasAck {
		tcb._state = StateEstablished
		pending = FlagACK
		tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	} else {
		// Simultaneous-open edge case: both ends sent a bare SYN.
		pending = synack
		tcb._state = StateSynRcvd
		tcb.resetSnd(tcb.snd.ISS, seg.WND)
		tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	}
	return pending, nil
}

func (tcb *ControlBlock) rcvSynRcvd(seg Segment) (pending Flags, err error) {
	if seg.ACK != tcb.snd.UNA+1 {
		return 0, errBadSegack
	}
	tcb._state = StateEstablished
	return 0, nil
}

func (tcb *ControlBlock) rcvEstablished(seg Segment) (pending Flags, err error) {
	flags := seg.Flags
	dataToAck := seg.DATALEN > 0
	hasFin := flags.HasAny(FlagFIN)
	if dataToAck || hasFin {
		pending = FlagACK
		if hasFin {
			tcb._state = StateCloseWait
			tcb.pending[1] = FlagFIN // FIN follows the CLOSE-WAIT ack once the user calls Close.
		}
	}
	return pending, nil
}

func (tcb *ControlBlock) rcvFinWait1(seg Segment) (pending Flags, err error) {
	flags := seg.Flags
	hasFin := flags.HasAny(FlagFIN)
	hasAck := flags.HasAny(FlagACK)
	switch {
	case hasFin && hasAck && seg.ACK == tcb.snd.NXT:
		// Remote's FIN carried the ACK of our own FIN: skip FIN-WAIT-2/CLOSING.
		tcb._state = StateTimeWait
	case hasFin:
		tcb._state = StateClosing
	case hasAck:
		tcb._state = StateFinWait2
	default:
		return 0, errFinwaitExpectedACK
	}
	return FlagACK, nil
}

func (tcb *ControlBlock) rcvFinWait2(seg Segment) (pending Flags, err error) {
	if !seg.Flags.HasAll(finack) {
		return 0, errFinwaitExpectedFinack
	}
	tcb._state = StateTimeWait
	return FlagACK, nil
}
