// ABOUTME: Headless output device that drains at the configured sample rate
// ABOUTME: Pulls one frame per freed device slot on a pinned goroutine
package output

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/harper/ringmix/internal/domain/mixer"
	"github.com/harper/ringmix/internal/infrastructure/affinity"
)

type PacedConfig struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	// DeviceFrames is the depth of the simulated device buffer.
	DeviceFrames int
	// PinCPU binds the pulling goroutine to a core; negative disables.
	PinCPU int
}

// Paced models a sound card with a DeviceFrames-deep buffer. The buffer is
// filled on start; afterwards one frame plays out every frame period,
// freeing a slot that is refilled with ReadFrame.
type Paced struct {
	cfg    PacedConfig
	src    FrameReader
	logger *slog.Logger

	pulled atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Output = (*Paced)(nil)

func NewPaced(cfg PacedConfig, src FrameReader, logger *slog.Logger) (*Paced, error) {
	if cfg.SampleRate <= 0 || cfg.Channels < 1 || cfg.FrameSamples < 1 {
		return nil, errors.Errorf("paced output: invalid format %d Hz x%d, %d samples", cfg.SampleRate, cfg.Channels, cfg.FrameSamples)
	}
	if cfg.DeviceFrames < 1 {
		cfg.DeviceFrames = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paced{cfg: cfg, src: src, logger: logger.With("component", "paced_output")}, nil
}

// FramePeriod is the playback time of one frame.
func (p *Paced) FramePeriod() time.Duration {
	return time.Duration(p.cfg.FrameSamples) * time.Second / time.Duration(p.cfg.SampleRate)
}

func (p *Paced) Start() error {
	if p.done != nil {
		return errors.New("paced output: already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	return nil
}

func (p *Paced) Close() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	<-p.done
	return nil
}

// Pulled is the number of frames requested from the source so far.
func (p *Paced) Pulled() uint64 {
	return p.pulled.Load()
}

func (p *Paced) run(ctx context.Context) {
	defer close(p.done)

	if err := affinity.Pin(p.cfg.PinCPU); err != nil {
		p.logger.Warn("cpu pinning failed", "error", err)
	}

	out := make([]int16, p.cfg.FrameSamples*p.cfg.Channels)
	for i := 0; i < p.cfg.DeviceFrames; i++ {
		p.pull(out)
	}

	ticker := time.NewTicker(p.FramePeriod())
	defer ticker.Stop()

	last := mixer.Muted
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.pull(out)
			if st != last {
				p.logger.Debug("output state changed", "from", last.String(), "to", st.String())
				last = st
			}
		}
	}
}

func (p *Paced) pull(out []int16) mixer.State {
	st := p.src.ReadFrame(out)
	p.pulled.Add(1)
	return st
}
