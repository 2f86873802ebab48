// ABOUTME: Outcome codes returned by every ring operation
// ABOUTME: Closed set: no error, no memory, full on insert, empty on extract
package ring

// Status is the result of a ring operation. Extract also yields a value when
// the status is NoError.
type Status int

const (
	NoError Status = iota
	// NoMemory is reported by InitStatus when storage could not be
	// allocated, and by every mutating operation on such an instance.
	NoMemory
	TooManyEntries
	NothingToGet
)

func (s Status) String() string {
	switch s {
	case NoError:
		return "no_error"
	case NoMemory:
		return "no_memory"
	case TooManyEntries:
		return "too_many_entries"
	case NothingToGet:
		return "nothing_to_get"
	default:
		return "unknown"
	}
}
