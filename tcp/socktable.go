package tcp

import (
	"net/netip"
	"sync"
)

// SockFDStart is the base of the synthetic descriptor range: every fd
// Table.Alloc hands out is at or above this value, making a managed
// descriptor distinguishable from a kernel file descriptor by range alone.
const SockFDStart = 500000

// Tuple is a connection's 4-tuple in local/remote orientation.
type Tuple struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
}

// Table is the process-wide registry of managed connections, keyed by
// synthetic descriptor and by 4-tuple. Connection counts for a client-side
// stack are small, so a reader/writer lock plus linear scan over a fixed
// slot array is the whole implementation — no hashing, no rebalancing.
type Table struct {
	mu     sync.RWMutex
	conns  []*Conn // nil slot is free
	nextFD int
}

// NewTable returns an empty table with room for capacity connections.
func NewTable(capacity int) *Table {
	return &Table{conns: make([]*Conn, capacity), nextFD: SockFDStart}
}

// Alloc inserts c into the first free slot, assigns it a freshly allocated
// fd, and returns that fd. It returns -1 if the table is already full.
func (t *Table) Alloc(c *Conn) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, slot := range t.conns {
		if slot == nil {
			fd := t.nextFD
			t.nextFD++
			c.fd = fd
			t.conns[i] = c
			return fd
		}
	}
	return -1
}

// LookupFD returns the connection registered under fd, or nil. A nil Table
// holds no connections.
func (t *Table) LookupFD(fd int) *Conn {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.conns {
		if c != nil && c.fd == fd {
			return c
		}
	}
	return nil
}

// LookupTuple returns the connection matching tuple, already in
// local/remote orientation, or nil. The receive path must flip a just-
// arrived packet's source/destination before calling this: the packet's
// source address and port are this tuple's remote address and port.
func (t *Table) LookupTuple(tuple Tuple) *Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.conns {
		if c == nil {
			continue
		}
		c.mu.RLock()
		match := c.tuple == tuple
		c.mu.RUnlock()
		if match {
			return c
		}
	}
	return nil
}

// CountByState returns the number of registered connections presently in
// each TCP state, for the socket-table instrumentation exported over
// Prometheus. Every registered fd is counted exactly once, CLOSED included.
func (t *Table) CountByState() map[State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[State]int, len(t.conns))
	for _, c := range t.conns {
		if c == nil {
			continue
		}
		counts[c.State()]++
	}
	return counts
}

// Remove destroys the connection registered under fd. It refuses, and
// returns false, if the connection's lock cannot be acquired exclusively —
// meaning some other goroutine is presently mutating it — so the caller is
// expected to retry rather than race a live mutation.
func (t *Table) Remove(fd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.conns {
		if c == nil || c.fd != fd {
			continue
		}
		if !c.mu.TryLock() {
			return false
		}
		c.mu.Unlock()
		t.conns[i] = nil
		return true
	}
	return false
}
