package tcp

// Value is a TCP sequence or acknowledgment number. Arithmetic and
// comparison on Value must account for wraparound at 2**32, per RFC 9293
// section 3.4: sequence numbers are compared by the sign of their 32-bit
// twos-complement difference, never by plain integer ordering.
type Value uint32

// Size is a segment length, window size, or other byte count in the
// sequence space; it is never itself subject to wraparound comparison.
type Size uint32

// Add returns v advanced by n octets, wrapping at 2**32.
func Add(v Value, n Size) Value { return v + Value(n) }

// Sizeof returns the number of octets between a (inclusive) and b
// (exclusive) going forward from a, i.e. b-a performed mod 2**32.
func Sizeof(a, b Value) Size { return Size(b - a) }

// LessThan reports whether v precedes other in sequence-space order
// (v < other, accounting for wraparound), per RFC 9293's definition:
//
//	(s1 < s2) iff ((s1 - s2) < 0 interpreted as a signed 32-bit quantity)
func (v Value) LessThan(other Value) bool { return int32(v-other) < 0 }

// LessThanEq reports whether v precedes or equals other in sequence-space order.
func (v Value) LessThanEq(other Value) bool { return v == other || v.LessThan(other) }

// InWindow reports whether v falls within [start, start+Size(wnd)) in
// sequence-space order.
func (v Value) InWindow(start Value, wnd Size) bool {
	offset := Size(v - start)
	return offset < wnd
}

// UpdateForward advances *v by n octets in place.
func (v *Value) UpdateForward(n Size) { *v = Add(*v, n) }
