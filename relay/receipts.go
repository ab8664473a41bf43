package relay

import "sync/atomic"

// ReceiptCounter is the single source of message identifiers. Values are
// strictly increasing across the server's lifetime, starting at 1, and
// safe under concurrent callers.
type ReceiptCounter struct {
	last atomic.Uint64
}

// NewReceiptCounter creates a counter whose first Next returns 1.
func NewReceiptCounter() *ReceiptCounter {
	return &ReceiptCounter{}
}

// Next returns the next message identifier.
func (c *ReceiptCounter) Next() uint64 {
	return c.last.Add(1)
}

// Last returns the most recently issued identifier, or 0 if none has
// been issued yet.
func (c *ReceiptCounter) Last() uint64 {
	return c.last.Load()
}
