package pool

import "errors"

// ErrPoolExhausted is returned when the wait queue itself is full
// (MaxWaitingClients already waiting) rather than just the pool.
var ErrPoolExhausted = errors.New("pool: exhausted, too many waiters")

// ErrTimeout is returned when AcquireTimeout elapses before a handle
// becomes available.
var ErrTimeout = errors.New("pool: acquire timed out")
