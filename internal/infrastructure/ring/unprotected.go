// ABOUTME: Ring variant without internal synchronization
// ABOUTME: Caller serializes all access (single goroutine or an outer lock)
package ring

import "time"

var _ Ring[uint32] = (*UnprotectedRing[uint32])(nil)

// UnprotectedRing must never be used by two goroutines at once.
type UnprotectedRing[T any] struct {
	storage[T]
}

func NewUnprotected[T any](capacity int) *UnprotectedRing[T] {
	return &UnprotectedRing[T]{storage: newStorage[T](capacity)}
}

func (r *UnprotectedRing[T]) Insert(v T) Status {
	return r.insert(v)
}

// Extract ignores blockingPeriod.
func (r *UnprotectedRing[T]) Extract(_ time.Duration) (T, Status) {
	return r.extract()
}

func (r *UnprotectedRing[T]) Flush() Status {
	return r.flush()
}

func (r *UnprotectedRing[T]) NonEmpty() bool {
	return r.nonEmpty()
}

func (r *UnprotectedRing[T]) Len() int {
	return r.len()
}

func (r *UnprotectedRing[T]) Cap() int {
	return r.capacity
}

func (r *UnprotectedRing[T]) InitStatus() Status {
	return r.status
}
