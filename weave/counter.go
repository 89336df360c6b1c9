package weave

import "go.uber.org/atomic"

// AttemptCounter hands out atomic block identifiers. One counter is
// shared by every class woven in a process, so identifiers are unique
// across the instrumented program. It is safe for concurrent use.
type AttemptCounter struct {
	n *atomic.Int32
}

// NewAttemptCounter returns a counter starting at zero.
func NewAttemptCounter() *AttemptCounter {
	return &AttemptCounter{n: atomic.NewInt32(0)}
}

// NewAttemptCounterFrom returns a counter whose first identifier is start.
func NewAttemptCounterFrom(start int32) *AttemptCounter {
	return &AttemptCounter{n: atomic.NewInt32(start)}
}

// Next returns the next identifier.
func (c *AttemptCounter) Next() int32 {
	return c.n.Inc() - 1
}

// Peek returns the identifier Next would return.
func (c *AttemptCounter) Peek() int32 {
	return c.n.Load()
}
