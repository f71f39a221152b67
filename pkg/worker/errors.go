package worker

import "errors"

// Errors returned by the pool lifecycle and by Submit. The dispatcher treats
// ErrQueueFull as a dropped message: it is counted against the tenant and
// the transport receive loop moves on instead of blocking.
var (
	ErrNilProcessor       = errors.New("worker: processor must not be nil")
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrQueueFull          = errors.New("worker: queue full")
	ErrStopTimeout        = errors.New("worker: workers still busy after stop timeout")
)
