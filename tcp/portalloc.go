package tcp

import "sync"

const (
	ephemeralPortMin uint16 = 49152
	ephemeralPortMax uint16 = 65535
)

// PortAllocator hands out TCP source ports from the ephemeral range,
// process-wide, wrapping back to the start once the range is exhausted.
// A single instance is meant to be shared by every Conn a process manages.
type PortAllocator struct {
	mu   sync.Mutex
	next uint16
}

// NewPortAllocator returns an allocator starting at the bottom of the ephemeral range.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{next: ephemeralPortMin}
}

// Next returns the next ephemeral port in sequence.
func (a *PortAllocator) Next() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.next
	if a.next == ephemeralPortMax {
		a.next = ephemeralPortMin
	} else {
		a.next++
	}
	return p
}
