package tcp

// Metrics receives counters a Conn updates as it operates: bytes actually
// handed to the wire or delivered to the application, segments
// retransmitted by the RTO timer, and segments dropped for carrying an
// illegal sequence number. Each field is optional; a nil field, or a nil
// *Metrics, is valid and the corresponding call becomes a no-op, the same
// convention usertcp.Logger uses for its nil receiver.
type Metrics struct {
	BytesSent       func(n int)
	BytesReceived   func(n int)
	Retransmit      func()
	IllegalSegment  func()
}

func (m *Metrics) bytesSent(n int) {
	if m != nil && m.BytesSent != nil {
		m.BytesSent(n)
	}
}

func (m *Metrics) bytesReceived(n int) {
	if m != nil && m.BytesReceived != nil {
		m.BytesReceived(n)
	}
}

func (m *Metrics) retransmit() {
	if m != nil && m.Retransmit != nil {
		m.Retransmit()
	}
}

func (m *Metrics) illegalSegment() {
	if m != nil && m.IllegalSegment != nil {
		m.IllegalSegment()
	}
}

// SetMetrics attaches m as the connection's metrics sink. Passing nil
// detaches it.
func (c *Conn) SetMetrics(m *Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}
