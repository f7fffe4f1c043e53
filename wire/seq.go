package wire

import "sync/atomic"

// Counter generates strictly increasing sequence numbers for one logical
// channel of a session. The zero value is ready to use; the first call to
// Next returns 1, so 0 never appears on the wire and the receiver's
// validator can start from zero.
type Counter struct {
	n atomic.Uint64
}

// Next returns the next sequence number.
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// Last returns the most recently issued sequence number, or 0 if none.
func (c *Counter) Last() uint64 {
	return c.n.Load()
}

// Reset rewinds the counter for a new session.
func (c *Counter) Reset() {
	c.n.Store(0)
}

// Validator tracks the highest accepted sequence number on one receiving
// channel. Messages whose sequence is not strictly greater than the last
// accepted one are duplicates or stale deliveries and must be discarded.
type Validator struct {
	last atomic.Uint64
}

// Accept reports whether seq is strictly greater than every previously
// accepted sequence and, if so, records it. It is safe for concurrent use.
func (v *Validator) Accept(seq uint64) bool {
	for {
		last := v.last.Load()
		if seq <= last {
			return false
		}
		if v.last.CompareAndSwap(last, seq) {
			return true
		}
	}
}

// Last returns the highest accepted sequence number, or 0 if none.
func (v *Validator) Last() uint64 {
	return v.last.Load()
}

// Reset rewinds the validator for a new session.
func (v *Validator) Reset() {
	v.last.Store(0)
}
