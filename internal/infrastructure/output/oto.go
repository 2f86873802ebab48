//go:build !headless

// ABOUTME: Sound card output through the oto audio library
// ABOUTME: The device pulls interleaved s16le PCM from the mixer's Read
package output

import (
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
)

type OtoConfig struct {
	SampleRate int
	Channels   int
	BufferSize time.Duration
}

type Oto struct {
	ctx    *oto.Context
	player *oto.Player
}

var _ Output = (*Oto)(nil)

// NewOto opens the default audio device. oto allows one context per
// process, so at most one mixer may use it.
func NewOto(cfg OtoConfig, src io.Reader) (*Oto, error) {
	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, errors.Wrap(err, "open audio device")
	}
	<-ready

	return &Oto{ctx: ctx, player: ctx.NewPlayer(src)}, nil
}

func (o *Oto) Start() error {
	o.player.Play()
	return nil
}

func (o *Oto) Close() error {
	return o.player.Close()
}
