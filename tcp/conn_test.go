package tcp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/juliusaf/usertcp/ipv4"
)

func testTuple() Tuple {
	return Tuple{
		LocalAddr:  netip.MustParseAddr("10.0.0.2"),
		LocalPort:  49200,
		RemoteAddr: netip.MustParseAddr("10.0.0.1"),
		RemotePort: 7,
	}
}

// peerTupleOf mirrors tuple into the orientation the peer sees it in.
func peerTupleOf(tuple Tuple) Tuple {
	return Tuple{
		LocalAddr:  tuple.RemoteAddr,
		LocalPort:  tuple.RemotePort,
		RemoteAddr: tuple.LocalAddr,
		RemotePort: tuple.LocalPort,
	}
}

// parseOutgoing decodes one datagram this stack emitted, as the peer would
// see it on the wire.
func parseOutgoing(t *testing.T, datagram []byte) (ipv4.Frame, Frame) {
	t.Helper()
	ifrm, err := ipv4.NewFrame(datagram)
	if err != nil {
		t.Fatalf("ipv4.NewFrame: %v", err)
	}
	tfrm, err := NewFrame(ifrm.Payload())
	if err != nil {
		t.Fatalf("tcp.NewFrame: %v", err)
	}
	return ifrm, tfrm
}

// deliverToConn builds a datagram for seg/payload, addressed from the
// peer's side of tuple, and dispatches it into table as an arriving
// packet.
func deliverToConn(t *testing.T, table *Table, tuple Tuple, seg Segment, payload []byte) {
	t.Helper()
	datagram := buildDatagram(peerTupleOf(tuple), seg, payload)
	ifrm, tfrm := parseOutgoing(t, datagram)
	if err := Dispatch(table, ifrm, tfrm); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func newTestConn(t *testing.T) (*Conn, *Table, chan []byte) {
	t.Helper()
	table := NewTable(4)
	var iss ISSClock
	delivered := make(chan []byte, 16)
	conn := NewConn(func(_ netip.Addr, datagram []byte) error {
		delivered <- append([]byte(nil), datagram...)
		return nil
	}, &iss, nil)
	if table.Alloc(conn) < SockFDStart {
		t.Fatal("Alloc failed")
	}
	return conn, table, delivered
}

// establishConn drives conn through an active-open handshake against a
// scripted peer, returning once it is ESTABLISHED.
func establishConn(t *testing.T, conn *Conn, table *Table, delivered chan []byte, tuple Tuple) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- conn.Connect(tuple) }()

	var synDatagram []byte
	select {
	case synDatagram = <-delivered:
	case <-time.After(time.Second):
		t.Fatal("SYN was never emitted")
	}
	_, synFrame := parseOutgoing(t, synDatagram)
	synSeg := synFrame.Segment(0)
	if !synSeg.Flags.HasAll(FlagSYN) {
		t.Fatalf("expected a SYN, got flags %s", synSeg.Flags)
	}

	synAck := Segment{SEQ: 3000, ACK: synSeg.SEQ + 1, WND: 8192, Flags: synack}
	deliverToConn(t, table, tuple, synAck, nil)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect never returned")
	}
	if got := conn.State(); got != StateEstablished {
		t.Fatalf("state = %v, want ESTABLISHED", got)
	}

	select {
	case finalAckDatagram := <-delivered:
		_, ackFrame := parseOutgoing(t, finalAckDatagram)
		if !ackFrame.Segment(0).Flags.HasAll(FlagACK) {
			t.Fatal("expected the handshake's final ACK to have gone out")
		}
	default:
		t.Fatal("expected the handshake's final ACK to have been emitted")
	}
}

func TestConnConnectEstablishes(t *testing.T) {
	conn, table, delivered := newTestConn(t)
	establishConn(t, conn, table, delivered, testTuple())
}

func TestConnConnectRefusedOnNoResponse(t *testing.T) {
	table := NewTable(1)
	var iss ISSClock
	conn := NewConn(func(_ netip.Addr, _ []byte) error { return nil }, &iss, nil)
	table.Alloc(conn)

	// No peer ever answers; Connect must give up and report failure rather
	// than hang forever or return success.
	err := conn.Connect(testTuple())
	if err == nil {
		t.Fatal("Connect with no peer response must fail")
	}
	if got := conn.State(); got != StateClosed {
		t.Fatalf("state after a failed connect = %v, want CLOSED", got)
	}
}

func TestConnSendEmitsPayloadSegment(t *testing.T) {
	conn, table, delivered := newTestConn(t)
	tuple := testTuple()
	establishConn(t, conn, table, delivered, tuple)

	sendDone := make(chan struct{})
	go func() {
		n, err := conn.Send([]byte("hello, world"))
		if err != nil {
			t.Errorf("Send: %v", err)
		}
		if n != len("hello, world") {
			t.Errorf("Send n = %d, want %d", n, len("hello, world"))
		}
		close(sendDone)
	}()

	var dataDatagram []byte
	select {
	case dataDatagram = <-delivered:
	case <-time.After(time.Second):
		t.Fatal("data segment was never emitted")
	}
	_, dataFrame := parseOutgoing(t, dataDatagram)
	dataSeg := dataFrame.Segment(len(dataFrame.Payload()))
	if string(dataFrame.Payload()) != "hello, world" {
		t.Fatalf("payload = %q, want %q", dataFrame.Payload(), "hello, world")
	}

	ack := Segment{SEQ: dataSeg.ACK, ACK: Add(dataSeg.SEQ, dataSeg.DATALEN), WND: 8192, Flags: FlagACK}
	deliverToConn(t, table, tuple, ack, nil)

	select {
	case <-sendDone:
	case <-time.After(time.Second):
		t.Fatal("Send never returned after being acked")
	}
}

func TestConnRecvDeliversInOrderData(t *testing.T) {
	conn, table, delivered := newTestConn(t)
	tuple := testTuple()
	establishConn(t, conn, table, delivered, tuple)

	recvNext := conn.tcb.RecvNext()
	sendNext := conn.tcb.SendNext()
	seg := Segment{SEQ: recvNext, ACK: sendNext, WND: 8192, Flags: FlagACK | FlagPSH, DATALEN: 5}
	deliverToConn(t, table, tuple, seg, []byte("howdy"))

	buf := make([]byte, 32)
	n, err := conn.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "howdy" {
		t.Fatalf("Recv = %q, want %q", buf[:n], "howdy")
	}

	// The data segment must have earned an ACK back.
	select {
	case ackDatagram := <-delivered:
		_, ackFrame := parseOutgoing(t, ackDatagram)
		if !ackFrame.Segment(0).Flags.HasAll(FlagACK) {
			t.Fatal("expected an ACK for the delivered data")
		}
	default:
		t.Fatal("expected an ACK to have been emitted for the delivered data")
	}
}

func TestConnGracefulClose(t *testing.T) {
	conn, table, delivered := newTestConn(t)
	tuple := testTuple()
	establishConn(t, conn, table, delivered, tuple)

	closeDone := make(chan error, 1)
	go func() { closeDone <- conn.Close() }()

	var finDatagram []byte
	select {
	case finDatagram = <-delivered:
	case <-time.After(time.Second):
		t.Fatal("FIN was never emitted")
	}
	_, finFrame := parseOutgoing(t, finDatagram)
	finSeg := finFrame.Segment(0)
	if !finSeg.Flags.HasAll(FlagFIN) {
		t.Fatalf("expected a FIN, got flags %s", finSeg.Flags)
	}
	if got := conn.State(); got != StateFinWait1 {
		t.Fatalf("state after sending FIN = %v, want FIN-WAIT-1", got)
	}

	// Peer acks our FIN, then sends its own.
	peerAck := Segment{SEQ: conn.tcb.RecvNext(), ACK: finSeg.SEQ + 1, WND: 8192, Flags: FlagACK}
	deliverToConn(t, table, tuple, peerAck, nil)
	if got := conn.State(); got != StateFinWait2 {
		t.Fatalf("state after peer's ack of our FIN = %v, want FIN-WAIT-2", got)
	}

	peerFin := Segment{SEQ: conn.tcb.RecvNext(), ACK: conn.tcb.SendNext(), WND: 8192, Flags: FlagFIN | FlagACK}
	deliverToConn(t, table, tuple, peerFin, nil)

	select {
	case err := <-closeDone:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close never returned")
	}
	if got := conn.State(); got != StateTimeWait {
		t.Fatalf("state after the peer's FIN = %v, want TIME-WAIT", got)
	}
}

func TestConnRecvReturnsEOFAfterPeerCloses(t *testing.T) {
	conn, table, delivered := newTestConn(t)
	tuple := testTuple()
	establishConn(t, conn, table, delivered, tuple)

	peerFin := Segment{SEQ: conn.tcb.RecvNext(), ACK: conn.tcb.SendNext(), WND: 8192, Flags: FlagFIN | FlagACK}
	deliverToConn(t, table, tuple, peerFin, nil)
	if got := conn.State(); got != StateCloseWait {
		t.Fatalf("state after peer FIN = %v, want CLOSE-WAIT", got)
	}

	// POSIX EOF convention: a Recv with nothing queued in CLOSE-WAIT
	// returns (0, nil), not an error.
	buf := make([]byte, 16)
	n, err := conn.Recv(buf)
	if n != 0 || err != nil {
		t.Fatalf("Recv after peer close = (%d, %v), want (0, nil)", n, err)
	}
}
