// ABOUTME: Output devices that pull presented frames from a mixer
// ABOUTME: Each pull corresponds to one free slot in the device buffer
package output

import (
	"github.com/harper/ringmix/internal/domain/mixer"
)

// Output is a running consumer of a mixer's presented audio.
type Output interface {
	Start() error
	Close() error
}

// FrameReader is the pull side of a mixer.
type FrameReader interface {
	ReadFrame(out []int16) mixer.State
}
