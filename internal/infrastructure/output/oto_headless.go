//go:build headless

package output

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

type OtoConfig struct {
	SampleRate int
	Channels   int
	BufferSize time.Duration
}

var ErrNoAudioDevice = errors.New("built without audio device support")

// NewOto always fails in headless builds.
func NewOto(cfg OtoConfig, src io.Reader) (Output, error) {
	return nil, ErrNoAudioDevice
}
