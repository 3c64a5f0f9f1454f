package session

import (
	"sync"
	"sync/atomic"
)

// ringChannel is a bounded channel whose producer never blocks: when the
// buffer is full the oldest element is discarded. Order is preserved.
//
// There must be a single producer. Consumers read from C().
type ringChannel[T any] struct {
	ch        chan T
	sent      atomic.Int64
	dropped   atomic.Int64
	closeOnce sync.Once
}

func newRingChannel[T any](capacity int) *ringChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &ringChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *ringChannel[T]) C() <-chan T {
	return rc.ch
}

// send inserts v, discarding the oldest buffered element if needed. It
// reports whether an element was dropped.
func (rc *ringChannel[T]) send(v T) bool {
	select {
	case rc.ch <- v:
		rc.sent.Add(1)
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch:
		rc.dropped.Add(1)
		dropped = true
	default:
		// the consumer drained the buffer in the meantime
	}
	// only the single producer writes, so a slot is free now
	rc.ch <- v
	rc.sent.Add(1)
	return dropped
}

func (rc *ringChannel[T]) close() {
	rc.closeOnce.Do(func() { close(rc.ch) })
}

// Sent returns how many elements were accepted.
func (rc *ringChannel[T]) Sent() int64 {
	return rc.sent.Load()
}

// Dropped returns how many elements were discarded on overflow.
func (rc *ringChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}
