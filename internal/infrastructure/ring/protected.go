// ABOUTME: Mutex-guarded ring variant whose Extract never blocks
// ABOUTME: Safe for concurrent producers and consumers that poll
package ring

import (
	"sync"
	"time"
)

var _ Ring[uint32] = (*ProtectedRing[uint32])(nil)

// ProtectedRing holds its lock only for the duration of one operation.
type ProtectedRing[T any] struct {
	mu sync.Mutex
	storage[T]
}

func NewProtected[T any](capacity int) *ProtectedRing[T] {
	return &ProtectedRing[T]{storage: newStorage[T](capacity)}
}

func (r *ProtectedRing[T]) Insert(v T) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(v)
}

// Extract returns NothingToGet at once on an empty ring; blockingPeriod is
// ignored.
func (r *ProtectedRing[T]) Extract(_ time.Duration) (T, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extract()
}

func (r *ProtectedRing[T]) Flush() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush()
}

func (r *ProtectedRing[T]) NonEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonEmpty()
}

func (r *ProtectedRing[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.len()
}

func (r *ProtectedRing[T]) Cap() int {
	return r.capacity
}

func (r *ProtectedRing[T]) InitStatus() Status {
	return r.status
}
