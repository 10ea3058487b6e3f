package tcp

import (
	"sync"
	"time"
)

// Tunable constants for the retransmission timer.
const (
	tcpStartRTO    = 10_000 * time.Microsecond
	tcpConnRetries = 4  // retry ceiling while the connection is in SYN-SENT
	tcpMaxRetries  = 15 // retry ceiling in every other state
)

// rtoTimer is the per-connection retransmission timer: armed whenever the
// send queue is non-empty, it fires a callback with exponential backoff on
// every expiry until the retry ceiling for the connection's phase is
// reached. No RTT measurement is performed — RTO is purely state-machine
// driven, per this stack's fixed-backoff congestion model.
type rtoTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	rto     time.Duration
	retries int
}

func newRTOTimer() *rtoTimer {
	return &rtoTimer{rto: tcpStartRTO}
}

// Arm schedules fn to run after the current RTO if no timer is already
// running; re-arming a timer already in flight is a no-op.
func (t *rtoTimer) Arm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.rto, fn)
}

// Cancel stops a pending timer, if any.
func (t *rtoTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Reset clears backoff state back to the initial RTO and zero retries,
// called once the send queue drains back to empty.
func (t *rtoTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rto = tcpStartRTO
	t.retries = 0
}

// Fired marks one expiry of the timer: it clears the armed slot, doubles
// the backoff (unless the ceiling for synSent is already exceeded), and
// reports the new retry count and whether the ceiling has been passed.
func (t *rtoTimer) Fired(synSent bool) (retries int, exceeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	t.retries++
	ceiling := tcpMaxRetries
	if synSent {
		ceiling = tcpConnRetries
	}
	exceeded = t.retries > ceiling
	if !exceeded {
		t.rto *= 2
	}
	return t.retries, exceeded
}

// RTO returns the current backoff duration.
func (t *rtoTimer) RTO() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rto
}
