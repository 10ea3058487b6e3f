package tcp

// sentSegment is one outstanding (unacknowledged, or partially acknowledged)
// segment sitting in the retransmit queue.
type sentSegment struct {
	seq   Value // sequence number of data[0]
	flags Flags // SYN/FIN carried by this segment; consumed by a full ack same as data
	data  []byte
}

// end returns the sequence number one past the segment's last octet,
// counting SYN/FIN as occupying one sequence number each.
func (s *sentSegment) end() Value {
	n := Size(len(s.data))
	if s.flags.HasAny(FlagSYN) {
		n++
	}
	if s.flags.HasAny(FlagFIN) {
		n++
	}
	return Add(s.seq, n)
}

// sendQueue is the retransmit queue: every SYN, FIN or data segment handed
// to the network stays here, oldest first, until an ACK covering it
// arrives; ACK-only segments are never pushed. It never reorders or merges
// segments: each Push is exactly what went out on the wire, and RecvACK
// only trims an acked prefix, so a retransmit replays the unacked bytes.
type sendQueue struct {
	segs []sentSegment
}

// Push appends a newly sent segment to the tail of the queue.
func (q *sendQueue) Push(seq Value, flags Flags, data []byte) {
	q.segs = append(q.segs, sentSegment{seq: seq, flags: flags, data: data})
}

// Empty reports whether the queue holds no outstanding segments.
func (q *sendQueue) Empty() bool { return len(q.segs) == 0 }

// Oldest returns the oldest outstanding segment, the one due for
// retransmission when its RTO fires, and whether one exists.
func (q *sendQueue) Oldest() (sentSegment, bool) {
	if len(q.segs) == 0 {
		return sentSegment{}, false
	}
	return q.segs[0], true
}

// RecvACK advances the queue past everything ack now covers: segments
// wholly acked are discarded, and a segment only partially acked (some
// but not all of its sequence space covered by ack) has its acked prefix
// trimmed off in place so a subsequent
// retransmit resends only the unacked remainder.
func (q *sendQueue) RecvACK(ack Value) {
	i := 0
	for i < len(q.segs) {
		seg := &q.segs[i]
		if ack.LessThanEq(seg.seq) {
			break // nothing in this or later segments is acked yet
		}
		end := seg.end()
		if end.LessThanEq(ack) {
			i++ // fully acked, drop it
			continue
		}
		// Partial ack: trim the acked prefix, accounting for SYN
		// occupying the first sequence number if present.
		acked := Sizeof(seg.seq, ack)
		if seg.flags.HasAny(FlagSYN) {
			seg.flags &^= FlagSYN
			acked--
		}
		if int(acked) > 0 && int(acked) <= len(seg.data) {
			seg.data = seg.data[acked:]
		}
		seg.seq = ack
		break
	}
	q.segs = q.segs[i:]
}

// Reset discards every outstanding segment, e.g. after the connection
// closes or aborts.
func (q *sendQueue) Reset() { q.segs = q.segs[:0] }
