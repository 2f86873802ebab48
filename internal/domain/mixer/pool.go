// ABOUTME: Preallocated PCM frame pool addressed by 32-bit descriptors
// ABOUTME: Free list is a blocking ring so producers wait for released frames
package mixer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/harper/ringmix/internal/infrastructure/ring"
)

// Frame is one unit of decoded audio: Samples holds interleaved channels,
// N of which are valid. The remainder is silence.
type Frame struct {
	Samples []int16
	N       int
}

// Pool hands out frames by index so rings only carry uint32 descriptors.
type Pool struct {
	frames []Frame
	free   *ring.GenericRing[uint32]
}

func NewPool(n, samplesPerFrame int) (*Pool, error) {
	if n < 1 || samplesPerFrame < 1 {
		return nil, errors.Errorf("frame pool: invalid size %d x %d", n, samplesPerFrame)
	}

	free := ring.NewGeneric[uint32](n)
	if st := free.InitStatus(); st != ring.NoError {
		return nil, errors.Errorf("frame pool: free list: %v", st)
	}

	backing := make([]int16, n*samplesPerFrame)
	p := &Pool{frames: make([]Frame, n), free: free}
	for i := range p.frames {
		p.frames[i].Samples = backing[i*samplesPerFrame : (i+1)*samplesPerFrame : (i+1)*samplesPerFrame]
		free.Insert(uint32(i))
	}
	return p, nil
}

// Acquire takes a free frame, waiting up to wait for one to be released.
func (p *Pool) Acquire(wait time.Duration) (uint32, bool) {
	idx, st := p.free.Extract(wait)
	return idx, st == ring.NoError
}

// Release returns a frame to the free list. Releasing more frames than
// the pool owns reports false.
func (p *Pool) Release(idx uint32) bool {
	if int(idx) >= len(p.frames) {
		return false
	}
	f := &p.frames[idx]
	clear(f.Samples)
	f.N = 0
	return p.free.Insert(idx) == ring.NoError
}

func (p *Pool) Frame(idx uint32) *Frame {
	return &p.frames[idx]
}

func (p *Pool) Size() int {
	return len(p.frames)
}

func (p *Pool) Free() int {
	return p.free.Len()
}
