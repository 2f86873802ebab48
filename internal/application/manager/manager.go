// ABOUTME: Mixer manager for lifecycle and lookup
// ABOUTME: Creates mixers and their outputs from config and runs them
package manager

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/harper/ringmix/internal/application/config"
	"github.com/harper/ringmix/internal/domain"
	"github.com/harper/ringmix/internal/domain/mixer"
	"github.com/harper/ringmix/internal/infrastructure/output"
	"github.com/harper/ringmix/internal/infrastructure/ring"
	"github.com/harper/ringmix/internal/infrastructure/source"
)

type Manager struct {
	mixers  map[string]*mixer.Mixer
	outputs map[string]output.Output
	order   []string
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mgr := &Manager{
		mixers:  make(map[string]*mixer.Mixer),
		outputs: make(map[string]output.Output),
		logger:  logger,
	}

	for _, mxCfg := range cfg.Mixers {
		src, err := newSource(mxCfg)
		if err != nil {
			mgr.closeOutputs()
			return nil, errors.Wrapf(err, "mixer %s", mxCfg.ID)
		}

		policy, err := ring.ParsePolicy(mxCfg.Ring.Policy)
		if err != nil {
			mgr.closeOutputs()
			return nil, errors.Wrapf(err, "mixer %s", mxCfg.ID)
		}
		decoded, err := ring.New[uint32](policy, mxCfg.Ring.Capacity)
		if err != nil {
			mgr.closeOutputs()
			return nil, errors.Wrapf(err, "mixer %s", mxCfg.ID)
		}

		mixerCfg := mixer.Config{
			ID:             mxCfg.ID,
			SampleRate:     mxCfg.Audio.SampleRate,
			Channels:       mxCfg.Audio.Channels,
			FrameSamples:   mxCfg.Audio.FrameSamples,
			Lookahead:      mxCfg.Ring.Lookahead,
			PoolFrames:     mxCfg.Ring.PoolFrames,
			BlockingPeriod: time.Duration(mxCfg.Ring.BlockingPeriodMs) * time.Millisecond,
			ReconnectDelay: time.Duration(mxCfg.Source.ReconnectDelayMs) * time.Millisecond,
			ChunkBusCap:    32,
		}

		mx, err := mixer.New(mixerCfg, src, decoded, logger)
		if err != nil {
			mgr.closeOutputs()
			return nil, err
		}

		out, err := newOutput(mxCfg, mx, logger)
		if err != nil {
			mgr.closeOutputs()
			return nil, errors.Wrapf(err, "mixer %s", mxCfg.ID)
		}

		mgr.mixers[mxCfg.ID] = mx
		mgr.outputs[mxCfg.ID] = out
		mgr.order = append(mgr.order, mxCfg.ID)
	}

	return mgr, nil
}

func newSource(cfg config.MixerConfig) (domain.StreamSource, error) {
	switch cfg.Source.Kind {
	case config.SourceHTTP:
		return source.NewHTTP(source.HTTPConfig{
			URL:            cfg.Source.URL,
			ConnectTimeout: time.Duration(cfg.Source.ConnectTimeoutMs) * time.Millisecond,
			ReadTimeout:    time.Duration(cfg.Source.ReadTimeoutMs) * time.Millisecond,
			Headers:        cfg.Source.RequestHeaders,
		}), nil
	case config.SourceTone:
		return source.NewTone(source.ToneConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			Hz:         cfg.Source.ToneHz,
			Amplitude:  cfg.Source.ToneAmplitude,
		}), nil
	default:
		return nil, errors.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// newOutput attaches the device that pulls a mixer's presented frames.
// Mixers without a device still need a clock: "none" drives them with a
// paced pull so HTTP listeners hear real-time audio.
func newOutput(cfg config.MixerConfig, mx *mixer.Mixer, logger *slog.Logger) (output.Output, error) {
	switch cfg.Output.Kind {
	case config.OutputPaced, config.OutputNone:
		out, err := output.NewPaced(output.PacedConfig{
			SampleRate:   cfg.Audio.SampleRate,
			Channels:     cfg.Audio.Channels,
			FrameSamples: cfg.Audio.FrameSamples,
			DeviceFrames: cfg.Output.DeviceFrames,
			PinCPU:       cfg.Output.CPU(),
		}, mx, logger.With("mixer", cfg.ID, "output", cfg.Output.Kind))
		if err != nil {
			return nil, err
		}
		return out, nil
	case config.OutputOto:
		out, err := output.NewOto(output.OtoConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BufferSize: time.Duration(cfg.Output.BufferMs) * time.Millisecond,
		}, mx)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, errors.Errorf("unknown output kind %q", cfg.Output.Kind)
	}
}

func (m *Manager) Get(id string) *mixer.Mixer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mixers[id]
}

// List returns mixers in configuration order.
func (m *Manager) List() []*mixer.Mixer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*mixer.Mixer, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.mixers[id])
	}
	return result
}

// Output returns the device pulling from a mixer, or nil for unknown ids.
func (m *Manager) Output(id string) output.Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outputs[id]
}

func (m *Manager) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		if err := m.mixers[id].Start(); err != nil {
			return errors.Wrapf(err, "start mixer %s", id)
		}
		if out, ok := m.outputs[id]; ok {
			if err := out.Start(); err != nil {
				return errors.Wrapf(err, "start output %s", id)
			}
		}
	}

	m.logger.Info("mixers started", "count", len(m.order))
	return nil
}

// Shutdown closes outputs before their mixers so no device pulls from a
// stopped mixer.
func (m *Manager) Shutdown() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for _, id := range m.sortedOutputIDs() {
		if err := m.outputs[id].Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close output %s", id)
		}
	}
	for _, id := range m.order {
		if err := m.mixers[id].Shutdown(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "shutdown mixer %s", id)
		}
	}
	return firstErr
}

func (m *Manager) sortedOutputIDs() []string {
	ids := make([]string, 0, len(m.outputs))
	for id := range m.outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) closeOutputs() {
	for _, out := range m.outputs {
		out.Close()
	}
}
