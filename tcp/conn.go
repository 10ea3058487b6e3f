package tcp

import (
	"errors"
	"sync"
	"time"

	"github.com/juliusaf/usertcp"
)

// connectDeadline bounds how long Connect blocks waiting for the handshake
// to complete before giving up and reporting ECONNREFUSED.
const connectDeadline = 2 * time.Second

// TCPStartWindow is the fixed receive window this stack advertises on
// every active open, per TCP_START_WINDOW.
const TCPStartWindow Size = 64240

var errSendQueueUnimplemented = errors.New("send queue on non-established socket not implemented")

// Conn is one managed TCP connection: a ControlBlock plus the queues, RTO
// timer and synchronization the blocking socket API needs on top of it.
//
// mu is the reader/writer lock protecting tcb, sendQ, rcvQ, tuple and err.
// stateCond and ackCond are the two condition-variable+mutex pairs: the
// former broadcasts on every state transition, the latter whenever the
// send window reopens or the receive queue gains data (recv blocking on a
// condition instead of busy-polling the queue length, per this stack's
// fix for that documented defect).
type Conn struct {
	fd    int
	tuple Tuple

	mu    sync.RWMutex
	tcb   ControlBlock
	sendQ sendQueue
	rcvQ  rcvQueue
	err   error

	stateCond *sync.Cond
	ackCond   *sync.Cond

	timer   *rtoTimer
	output  DatagramSender
	iss     *ISSClock
	log     *usertcp.Logger
	metrics *Metrics
}

// NewConn returns a freshly allocated, unopened connection (state CLOSED).
// output is used for every datagram this connection emits once opened; iss
// is the process-wide ISS clock shared across every connection.
func NewConn(output DatagramSender, iss *ISSClock, log *usertcp.Logger) *Conn {
	c := &Conn{output: output, iss: iss, log: log, timer: newRTOTimer()}
	c.stateCond = sync.NewCond(new(sync.Mutex))
	c.ackCond = sync.NewCond(new(sync.Mutex))
	c.tcb.SetLogger(log)
	return c
}

// FD returns the connection's synthetic descriptor, valid once it has been
// inserted into a Table via Table.Alloc.
func (c *Conn) FD() int { return c.fd }

// Tuple returns the connection's 4-tuple.
func (c *Conn) Tuple() Tuple {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tuple
}

// State returns the connection's current TCP state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tcb.State()
}

func (c *Conn) broadcastState() {
	c.stateCond.L.Lock()
	c.stateCond.Broadcast()
	c.stateCond.L.Unlock()
}

func (c *Conn) broadcastAck() {
	c.ackCond.L.Lock()
	c.ackCond.Broadcast()
	c.ackCond.L.Unlock()
}

// broadcastTerminalError records err as the connection's last error and
// wakes every waiter on both conditions, so no blocked connect/send/recv/
// close is ever stranded by a connection that can no longer make progress.
func (c *Conn) broadcastTerminalError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.broadcastState()
	c.broadcastAck()
}

// waitCond blocks on cond until fn reports true or deadline elapses
// (deadline <= 0 waits indefinitely), returning fn's final value.
func waitCond(cond *sync.Cond, deadline time.Duration, fn func() bool) bool {
	cond.L.Lock()
	defer cond.L.Unlock()
	if deadline <= 0 {
		for !fn() {
			cond.Wait()
		}
		return true
	}
	timedOut := false
	timer := time.AfterFunc(deadline, func() {
		cond.L.Lock()
		timedOut = true
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	for !fn() && !timedOut {
		cond.Wait()
	}
	return fn()
}

// Connect performs an active open: permitted only from CLOSED. It
// generates the ISS, emits the SYN (retrying up to TCP_CONN_RETRIES times
// with a short wait if the datagram could not be sent, e.g. the next-hop
// hardware address has not yet resolved), then blocks on the state-change
// condition up to a 2-second deadline. Reaching ESTABLISHED returns nil;
// anything else resets the connection and reports ECONNREFUSED, or the
// connection's recorded error if one was set.
func (c *Conn) Connect(tuple Tuple) error {
	c.mu.Lock()
	if c.tcb.State() != StateClosed {
		c.mu.Unlock()
		return NewSockError("connect", ErrIsConn)
	}
	c.tuple = tuple
	c.err = nil
	iss := GenerateISS(c.iss.Tick())
	seg := ClientSynSegment(iss, TCPStartWindow)
	if err := c.tcb.Send(seg); err != nil {
		c.mu.Unlock()
		return NewSockError("connect", err)
	}
	datagram := buildDatagram(tuple, seg, nil)
	c.mu.Unlock()

	var sendErr error
	for attempt := 0; attempt < tcpConnRetries; attempt++ {
		sendErr = c.output(tuple.RemoteAddr, datagram)
		if sendErr == nil {
			break
		}
		c.log.Debug("tcp: syn emission retry", "attempt", attempt, "err", sendErr)
		time.Sleep(200 * time.Millisecond)
	}
	if sendErr != nil {
		c.resetLocked()
		return NewSockError("connect", ErrConnRefused)
	}

	c.mu.Lock()
	c.sendQ.Push(seg.SEQ, seg.Flags, nil)
	c.timer.Arm(c.retransmit)
	c.mu.Unlock()

	waitCond(c.stateCond, connectDeadline, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.tcb.State() == StateEstablished || c.err != nil
	})

	c.mu.RLock()
	state := c.tcb.State()
	connErr := c.err
	c.mu.RUnlock()
	if state == StateEstablished {
		return nil
	}
	c.resetLocked()
	if connErr != nil {
		return NewSockError("connect", connErr)
	}
	return NewSockError("connect", ErrConnRefused)
}

// Send chunks buf into segments of at most TCP_SAFE_MTU bytes, each no
// larger than the currently usable send window, blocking on the ACK
// condition whenever that window is zero. The usable window is re-read
// from the live TCB at the top of every loop iteration — never cached in
// a shadowed local that would go stale across iterations. It returns the
// number of bytes actually appended to the retransmit queue and sent.
func (c *Conn) Send(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, NewSockError("send", ErrInval)
	}
	c.mu.RLock()
	state := c.tcb.State()
	c.mu.RUnlock()
	switch {
	case state == StateClosed:
		return 0, NewSockError("send", ErrNotConn)
	case state.IsPreestablished():
		return 0, NewSockError("send", errSendQueueUnimplemented)
	case state != StateEstablished && state != StateCloseWait:
		return 0, NewSockError("send", ErrPipe)
	}

	sent := 0
	for sent < len(buf) {
		waitCond(c.ackCond, 0, func() bool {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.tcb.UsableSendWindow() > 0 || c.err != nil
		})

		c.mu.Lock()
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return sent, NewSockError("send", err)
		}
		usable := int(c.tcb.UsableSendWindow())
		if usable <= 0 {
			c.mu.Unlock()
			continue // window closed again between wake and lock; re-wait
		}
		chunk := min(tcpSafeMTU, usable, len(buf)-sent)
		data := append([]byte(nil), buf[sent:sent+chunk]...)
		final := sent+chunk == len(buf)
		flags := FlagACK
		if final {
			flags |= FlagPSH
		}
		seg := Segment{
			SEQ:     c.tcb.SendNext(),
			ACK:     c.tcb.RecvNext(),
			WND:     c.tcb.RecvWindow(),
			Flags:   flags,
			DATALEN: Size(len(data)),
		}
		err := c.emitLocked(seg, data)
		c.mu.Unlock()
		if err != nil {
			return sent, NewSockError("send", err)
		}
		c.metrics.bytesSent(len(data))
		sent += chunk
	}
	return sent, nil
}

// Recv blocks on the ACK/data condition until the receive queue holds
// data, the connection has nothing further to deliver (CLOSE-WAIT with an
// empty queue), or a terminal error has been recorded — replacing the
// busy-poll on queue length with a proper condition wait. It then drains
// whole segments into buf, stopping before any segment that would
// overflow it, and restores that many bytes to the advertised window.
func (c *Conn) Recv(buf []byte) (int, error) {
	c.mu.RLock()
	state := c.tcb.State()
	c.mu.RUnlock()
	switch state {
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
	case StateClosed:
		return 0, NewSockError("recv", ErrNotConn)
	default:
		return 0, NewSockError("recv", ErrPipe)
	}

	waitCond(c.ackCond, 0, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if !c.rcvQ.Empty() {
			return true
		}
		return c.tcb.State() == StateCloseWait || c.err != nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.rcvQ.Read(buf)
	if n > 0 {
		c.tcb.SetRecvWindow(c.tcb.RecvWindow() + Size(n))
	}
	if n == 0 && c.err != nil {
		return 0, NewSockError("recv", c.err)
	}
	return n, nil
}

// Close implements the state table in the close behaviour section: it may
// send a FIN, transition state, and then block on the state-change
// condition until the connection reaches the terminal state the source
// state implies (TIME-WAIT from an ESTABLISHED-rooted close, CLOSED from a
// CLOSE-WAIT-rooted close); LISTEN/SYN-SENT and the already-closing states
// return immediately, the latter idempotently.
func (c *Conn) Close() error {
	c.mu.Lock()
	state := c.tcb.State()
	if err := c.tcb.Close(); err != nil {
		c.mu.Unlock()
		if errors.Is(err, errConnNotexist) {
			return NewSockError("close", ErrNotConn)
		}
		if errors.Is(err, errConnectionClosing) {
			return NewSockError("close", ErrPipe)
		}
		return NewSockError("close", err)
	}
	pending, hasPending := c.tcb.PendingSegment(0)
	c.mu.Unlock()
	c.broadcastState()

	if hasPending {
		c.mu.Lock()
		err := c.emitLocked(pending, nil)
		c.mu.Unlock()
		if err != nil {
			c.log.Error("tcp: close FIN send failed", "err", err)
		}
	}

	switch state {
	case StateListen, StateSynSent, StateFinWait1, StateFinWait2:
		return nil // already CLOSED or already closing: idempotent, non-blocking
	}

	waitFor := StateTimeWait
	if state == StateCloseWait {
		waitFor = StateClosed
	}
	waitCond(c.stateCond, 0, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.tcb.State() == waitFor || c.err != nil
	})

	c.mu.RLock()
	err := c.err
	c.mu.RUnlock()
	if err != nil {
		return NewSockError("close", err)
	}
	return nil
}

// resetLocked returns the connection to CLOSED with a fresh TCB and
// cleared queues, cancelling any armed timer. Used when connect fails to
// establish and by an external reset_sock equivalent.
func (c *Conn) resetLocked() {
	c.timer.Cancel()
	c.timer.Reset()
	c.mu.Lock()
	c.tcb = ControlBlock{}
	c.tcb.SetLogger(c.log)
	c.sendQ.Reset()
	c.rcvQ.Reset()
	c.mu.Unlock()
	c.broadcastState()
	c.broadcastAck()
}
