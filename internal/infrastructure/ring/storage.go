// ABOUTME: Cursor and slot arithmetic shared by every ring variant
// ABOUTME: One sacrificial slot distinguishes full from empty
package ring

// storage is not safe for concurrent use; the variants add locking.
type storage[T any] struct {
	slots       []T
	nextInsert  int
	nextExtract int
	capacity    int
	status      Status
}

func newStorage[T any](capacity int) (s storage[T]) {
	s.capacity = capacity
	if capacity < 1 || capacity > MaxCapacity {
		s.status = NoMemory
		return s
	}
	defer func() {
		if recover() != nil {
			s.slots = nil
			s.status = NoMemory
		}
	}()
	s.slots = make([]T, capacity+1)
	return s
}

func (s *storage[T]) advance(i int) int {
	i++
	if i == len(s.slots) {
		return 0
	}
	return i
}

func (s *storage[T]) insert(v T) Status {
	if s.status != NoError {
		return s.status
	}
	pos := s.nextInsert
	s.nextInsert = s.advance(pos)
	if s.nextInsert == s.nextExtract {
		// Would look empty; roll back.
		s.nextInsert = pos
		return TooManyEntries
	}
	s.slots[pos] = v
	return NoError
}

func (s *storage[T]) extract() (v T, st Status) {
	if s.status != NoError {
		return v, s.status
	}
	if s.nextInsert == s.nextExtract {
		return v, NothingToGet
	}
	var zero T
	v = s.slots[s.nextExtract]
	s.slots[s.nextExtract] = zero
	s.nextExtract = s.advance(s.nextExtract)
	return v, NoError
}

// flush drops queued values without inspecting them. Slots are zeroed so
// pointer payloads become collectable.
func (s *storage[T]) flush() Status {
	if s.status != NoError {
		return s.status
	}
	clear(s.slots)
	s.nextInsert = 0
	s.nextExtract = 0
	return NoError
}

func (s *storage[T]) nonEmpty() bool {
	return s.nextInsert != s.nextExtract
}

func (s *storage[T]) len() int {
	if s.status != NoError {
		return 0
	}
	n := s.nextInsert - s.nextExtract
	if n < 0 {
		n += len(s.slots)
	}
	return n
}
