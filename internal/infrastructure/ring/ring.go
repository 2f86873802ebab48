// ABOUTME: Bounded circular buffer contract shared by all ring variants
// ABOUTME: Policy selection lets each use-site pick its locking discipline
package ring

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// NonBlocking makes Extract return NothingToGet immediately on an empty ring.
	NonBlocking time.Duration = 0
	// Infinite makes GenericRing.Extract wait until a value arrives.
	Infinite time.Duration = -1

	// MaxCapacity bounds the storage a ring will try to allocate.
	MaxCapacity = 1 << 24
)

// Ring is a fixed-capacity FIFO of opaque values.
//
// Storage holds capacity+1 slots. The ring is empty when both cursors are
// equal; a full ring is detected by Insert and never reaches that state.
type Ring[T any] interface {
	// Insert appends v. A full ring is left unchanged and TooManyEntries
	// is returned.
	Insert(v T) Status
	// Extract removes the oldest value. blockingPeriod is only honored by
	// GenericRing; the other variants always return immediately.
	Extract(blockingPeriod time.Duration) (T, Status)
	// Flush discards every queued value.
	Flush() Status
	// NonEmpty is a snapshot and may be stale by the time it returns.
	NonEmpty() bool
	Len() int
	Cap() int
	// InitStatus is NoMemory when construction failed. Such an instance
	// must not be used.
	InitStatus() Status
}

// Policy names one of the three concurrency disciplines.
type Policy string

const (
	PolicyUnprotected Policy = "unprotected"
	PolicyProtected   Policy = "protected"
	PolicyGeneric     Policy = "generic"
)

var ErrUnknownPolicy = errors.New("unknown ring policy")

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyUnprotected, PolicyProtected, PolicyGeneric:
		return p, nil
	default:
		return "", errors.Wrapf(ErrUnknownPolicy, "%q", s)
	}
}

// New builds the ring variant named by p.
func New[T any](p Policy, capacity int) (Ring[T], error) {
	switch p {
	case PolicyUnprotected:
		return NewUnprotected[T](capacity), nil
	case PolicyProtected:
		return NewProtected[T](capacity), nil
	case PolicyGeneric:
		return NewGeneric[T](capacity), nil
	default:
		return nil, errors.Wrapf(ErrUnknownPolicy, "%q", p)
	}
}
