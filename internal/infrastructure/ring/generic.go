// ABOUTME: Mutex plus condition variable ring usable as a blocking work queue
// ABOUTME: Extract can wait for data with a timeout or a context
package ring

import (
	"context"
	"sync"
	"time"
)

var _ Ring[uint32] = (*GenericRing[uint32])(nil)

// GenericRing lets an extractor sleep until a producer inserts.
//
// The wait loop re-checks emptiness after every wake, so several
// concurrent extractors are safe: each value is delivered exactly once and
// a waiter that loses the race goes back to sleep.
type GenericRing[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	storage[T]
}

func NewGeneric[T any](capacity int) *GenericRing[T] {
	r := &GenericRing[T]{storage: newStorage[T](capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Insert wakes one waiting extractor on success.
func (r *GenericRing[T]) Insert(v T) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.insert(v)
	if st == NoError {
		r.cond.Signal()
	}
	return st
}

// Extract removes the oldest value. With NonBlocking it behaves like
// ProtectedRing.Extract; with Infinite it waits until a value arrives;
// otherwise it gives up with NothingToGet once blockingPeriod has elapsed.
// The lock is released while waiting.
func (r *GenericRing[T]) Extract(blockingPeriod time.Duration) (T, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, st := r.extract()
	if st != NothingToGet || blockingPeriod == NonBlocking {
		return v, st
	}

	if blockingPeriod < 0 {
		for !r.nonEmpty() {
			r.cond.Wait()
		}
		return r.extract()
	}

	// deadline is taken before arming the timer so the timer never fires
	// ahead of it.
	deadline := time.Now().Add(blockingPeriod)
	timer := time.AfterFunc(blockingPeriod, r.wakeAll)
	defer timer.Stop()

	for !r.nonEmpty() {
		if !time.Now().Before(deadline) {
			return v, NothingToGet
		}
		r.cond.Wait()
	}
	return r.extract()
}

// ExtractContext waits until a value arrives or ctx is done, in which case
// it returns NothingToGet.
func (r *GenericRing[T]) ExtractContext(ctx context.Context) (T, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stop := context.AfterFunc(ctx, r.wakeAll)
	defer stop()

	for r.status == NoError && !r.nonEmpty() {
		if ctx.Err() != nil {
			var zero T
			return zero, NothingToGet
		}
		r.cond.Wait()
	}
	return r.extract()
}

func (r *GenericRing[T]) wakeAll() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *GenericRing[T]) Flush() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush()
}

func (r *GenericRing[T]) NonEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonEmpty()
}

func (r *GenericRing[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.len()
}

func (r *GenericRing[T]) Cap() int {
	return r.capacity
}

func (r *GenericRing[T]) InitStatus() Status {
	return r.status
}
