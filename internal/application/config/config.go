// ABOUTME: YAML configuration parsing and validation
// ABOUTME: Defines structure for multi-mixer daemon configuration
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/harper/ringmix/internal/infrastructure/ring"
)

type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Mixers  []MixerConfig `yaml:"mixers"`
	Logging LoggingConfig `yaml:"logging"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MixerConfig struct {
	ID     string       `yaml:"id"`
	Audio  AudioConfig  `yaml:"audio"`
	Source SourceConfig `yaml:"source"`
	Ring   RingConfig   `yaml:"ring"`
	Output OutputConfig `yaml:"output"`
}

type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	Channels     int `yaml:"channels"`
	FrameSamples int `yaml:"frame_samples"`
}

type SourceConfig struct {
	Kind             string            `yaml:"kind"` // http or tone
	URL              string            `yaml:"url"`
	RequestHeaders   map[string]string `yaml:"request_headers"`
	ConnectTimeoutMs int               `yaml:"connect_timeout_ms"`
	ReadTimeoutMs    int               `yaml:"read_timeout_ms"`
	ReconnectDelayMs int               `yaml:"reconnect_delay_ms"`
	ToneHz           float64           `yaml:"tone_hz"`
	ToneAmplitude    float64           `yaml:"tone_amplitude"`
}

type RingConfig struct {
	Policy           string `yaml:"policy"`
	Capacity         int    `yaml:"capacity"`
	Lookahead        int    `yaml:"lookahead"`
	PoolFrames       int    `yaml:"pool_frames"`
	BlockingPeriodMs int    `yaml:"blocking_period_ms"`
}

type OutputConfig struct {
	Kind         string `yaml:"kind"` // paced, oto or none (HTTP listeners only, paced clock)
	DeviceFrames int    `yaml:"device_frames"`
	BufferMs     int    `yaml:"buffer_ms"`
	PinCPU       *int   `yaml:"pin_cpu"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

const (
	SourceHTTP = "http"
	SourceTone = "tone"

	OutputPaced = "paced"
	OutputOto   = "oto"
	OutputNone  = "none"
)

// CPU returns the core to pin the output to, or -1.
func (o OutputConfig) CPU() int {
	if o.PinCPU == nil {
		return -1
	}
	return *o.PinCPU
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse yaml")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = "0.0.0.0"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	for i := range c.Mixers {
		m := &c.Mixers[i]
		if m.Audio.SampleRate == 0 {
			m.Audio.SampleRate = 48000
		}
		if m.Audio.Channels == 0 {
			m.Audio.Channels = 2
		}
		if m.Audio.FrameSamples == 0 {
			// 10ms frames
			m.Audio.FrameSamples = m.Audio.SampleRate / 100
		}
		if m.Source.Kind == "" {
			m.Source.Kind = SourceHTTP
		}
		if m.Source.ReconnectDelayMs == 0 {
			m.Source.ReconnectDelayMs = 2000
		}
		if m.Source.Kind == SourceTone && m.Source.ToneHz == 0 {
			m.Source.ToneHz = 440
		}
		if m.Ring.Policy == "" {
			m.Ring.Policy = string(ring.PolicyGeneric)
		}
		if m.Ring.Capacity == 0 {
			m.Ring.Capacity = 16
		}
		if m.Ring.Lookahead == 0 {
			m.Ring.Lookahead = 4
		}
		if m.Ring.BlockingPeriodMs == 0 {
			m.Ring.BlockingPeriodMs = 20
		}
		if m.Output.Kind == "" {
			m.Output.Kind = OutputPaced
		}
		if m.Output.DeviceFrames == 0 {
			m.Output.DeviceFrames = 4
		}
		if m.Output.BufferMs == 0 {
			m.Output.BufferMs = 40
		}
	}
}

func (c *Config) Validate() error {
	seen := make(map[string]bool)
	otoUsers := 0

	for i, m := range c.Mixers {
		if strings.TrimSpace(m.ID) == "" {
			return errors.Errorf("mixer %d: missing id", i)
		}
		if strings.ContainsRune(m.ID, '/') {
			return errors.Errorf("mixer %s: id must not contain '/'", m.ID)
		}
		if seen[m.ID] {
			return errors.Errorf("mixer %s: duplicate id", m.ID)
		}
		seen[m.ID] = true

		if m.Audio.SampleRate <= 0 {
			return errors.Errorf("mixer %s: invalid sample_rate %d", m.ID, m.Audio.SampleRate)
		}
		if m.Audio.Channels < 1 || m.Audio.Channels > 2 {
			return errors.Errorf("mixer %s: channels must be 1 or 2", m.ID)
		}
		if m.Audio.FrameSamples < 1 {
			return errors.Errorf("mixer %s: invalid frame_samples %d", m.ID, m.Audio.FrameSamples)
		}

		switch m.Source.Kind {
		case SourceHTTP:
			if m.Source.URL == "" {
				return errors.Errorf("mixer %s: http source needs a url", m.ID)
			}
		case SourceTone:
		default:
			return errors.Errorf("mixer %s: unknown source kind %q", m.ID, m.Source.Kind)
		}

		policy, err := ring.ParsePolicy(m.Ring.Policy)
		if err != nil {
			return errors.Wrapf(err, "mixer %s", m.ID)
		}
		// The decoded ring is shared by the decoder and output goroutines.
		if policy == ring.PolicyUnprotected {
			return errors.Errorf("mixer %s: ring policy %q cannot cross goroutines", m.ID, policy)
		}
		if m.Ring.Capacity < 1 || m.Ring.Capacity > ring.MaxCapacity {
			return errors.Errorf("mixer %s: invalid ring capacity %d", m.ID, m.Ring.Capacity)
		}
		if m.Ring.Lookahead < 1 {
			return errors.Errorf("mixer %s: lookahead must be at least 1", m.ID)
		}
		if m.Ring.PoolFrames < 0 {
			return errors.Errorf("mixer %s: invalid pool_frames %d", m.ID, m.Ring.PoolFrames)
		}

		switch m.Output.Kind {
		case OutputPaced, OutputNone:
		case OutputOto:
			otoUsers++
		default:
			return errors.Errorf("mixer %s: unknown output kind %q", m.ID, m.Output.Kind)
		}
	}

	if otoUsers > 1 {
		return errors.New("only one mixer can use the oto output")
	}
	return nil
}
