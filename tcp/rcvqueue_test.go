package tcp

import "testing"

func TestRcvQueuePushReadInOrder(t *testing.T) {
	var q rcvQueue
	q.Push([]byte("abc"))
	q.Push([]byte("def"))
	if q.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", q.Len())
	}

	buf := make([]byte, 10)
	n := q.Read(buf)
	if n != 6 || string(buf[:n]) != "abcdef" {
		t.Fatalf("Read() = %q (n=%d), want %q", buf[:n], n, "abcdef")
	}
	if !q.Empty() {
		t.Fatal("queue should be drained")
	}
}

func TestRcvQueueReadNeverSplitsASegment(t *testing.T) {
	var q rcvQueue
	q.Push([]byte("abcde"))
	q.Push([]byte("fg"))

	buf := make([]byte, 6) // big enough for the first segment, not both
	n := q.Read(buf)
	if n != 5 || string(buf[:n]) != "abcde" {
		t.Fatalf("Read() = %q (n=%d), want %q", buf[:n], n, "abcde")
	}
	if q.Empty() {
		t.Fatal("second segment should remain queued, undelivered and whole")
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (the untouched second segment)", q.Len())
	}
}

func TestRcvQueuePushIgnoresEmptyData(t *testing.T) {
	var q rcvQueue
	q.Push(nil)
	q.Push([]byte{})
	if !q.Empty() {
		t.Fatal("pushing empty payloads should not queue anything")
	}
}

func TestRcvQueueReset(t *testing.T) {
	var q rcvQueue
	q.Push([]byte("x"))
	q.Reset()
	if !q.Empty() || q.Len() != 0 {
		t.Fatal("Reset should discard all buffered data")
	}
}
