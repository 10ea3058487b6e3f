package tcp

import "testing"

func TestSendQueueFullAck(t *testing.T) {
	var q sendQueue
	q.Push(100, FlagSYN, nil)
	q.Push(101, FlagACK, []byte("hello"))
	if q.Empty() {
		t.Fatal("queue should not be empty after two pushes")
	}

	q.RecvACK(101) // acks the SYN only
	seg, ok := q.Oldest()
	if !ok {
		t.Fatal("expected a remaining segment")
	}
	if seg.seq != 101 || seg.flags.HasAny(FlagSYN) {
		t.Fatalf("SYN segment should have been fully consumed, got %+v", seg)
	}

	q.RecvACK(106) // acks the 5 bytes of "hello"
	if !q.Empty() {
		t.Fatal("queue should be empty once all outstanding data is acked")
	}
}

func TestSendQueuePartialAck(t *testing.T) {
	var q sendQueue
	q.Push(1000, FlagACK, []byte("0123456789"))

	q.RecvACK(1004) // acks first 4 bytes
	seg, ok := q.Oldest()
	if !ok {
		t.Fatal("expected a remaining segment")
	}
	if seg.seq != 1004 {
		t.Fatalf("seq after partial ack = %d, want 1004", seg.seq)
	}
	if string(seg.data) != "456789" {
		t.Fatalf("data after partial ack = %q, want %q", seg.data, "456789")
	}
}

func TestSendQueuePartialAckTrimsSYN(t *testing.T) {
	var q sendQueue
	q.Push(2000, FlagSYN|FlagACK, []byte("abc"))

	// ack covers the SYN plus the first byte of data
	q.RecvACK(2002)
	seg, ok := q.Oldest()
	if !ok {
		t.Fatal("expected a remaining segment")
	}
	if seg.flags.HasAny(FlagSYN) {
		t.Fatal("SYN should have been consumed by the ack")
	}
	if string(seg.data) != "bc" {
		t.Fatalf("data after partial ack = %q, want %q", seg.data, "bc")
	}
}

func TestSendQueueAckDoesNotTouchLaterSegments(t *testing.T) {
	var q sendQueue
	q.Push(1, FlagACK, []byte("aa"))
	q.Push(3, FlagACK, []byte("bb"))

	q.RecvACK(3) // only fully acks the first segment
	seg, ok := q.Oldest()
	if !ok {
		t.Fatal("expected the second segment to remain")
	}
	if seg.seq != 3 || string(seg.data) != "bb" {
		t.Fatalf("unexpected remaining segment: %+v", seg)
	}
}

func TestSendQueueReset(t *testing.T) {
	var q sendQueue
	q.Push(1, FlagACK, []byte("x"))
	q.Reset()
	if !q.Empty() {
		t.Fatal("Reset should discard every outstanding segment")
	}
}
