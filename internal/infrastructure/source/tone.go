// ABOUTME: Synthetic sine-wave PCM source for demos and soak testing
// ABOUTME: Produces signed 16-bit little endian samples as fast as they are read
package source

import (
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

type ToneConfig struct {
	SampleRate int
	Channels   int
	Hz         float64
	Amplitude  float64 // 0..1 of full scale
	// Limit ends the stream after this many sample frames; 0 is endless.
	Limit int64
}

type ToneSource struct {
	cfg ToneConfig
}

func NewTone(cfg ToneConfig) *ToneSource {
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	if cfg.Channels > 8 {
		cfg.Channels = 8
	}
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = 0.5
	}
	return &ToneSource{cfg: cfg}
}

func (t *ToneSource) Connect(ctx context.Context) (io.ReadCloser, error) {
	if t.cfg.SampleRate <= 0 {
		return nil, errors.Errorf("tone: invalid sample rate %d", t.cfg.SampleRate)
	}
	return &toneStream{ctx: ctx, cfg: t.cfg}, nil
}

type toneStream struct {
	ctx   context.Context
	cfg   ToneConfig
	pos   int64
	carry []byte
}

func (s *toneStream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}

	n := copy(p, s.carry)
	s.carry = s.carry[n:]

	frameBytes := 2 * s.cfg.Channels
	var frame [16]byte
	for n < len(p) {
		if s.cfg.Limit > 0 && s.pos >= s.cfg.Limit {
			if n == 0 {
				return 0, io.EOF
			}
			break
		}
		v := math.Sin(2 * math.Pi * s.cfg.Hz * float64(s.pos) / float64(s.cfg.SampleRate))
		sample := uint16(int16(v * s.cfg.Amplitude * math.MaxInt16))
		for c := 0; c < s.cfg.Channels; c++ {
			binary.LittleEndian.PutUint16(frame[2*c:], sample)
		}
		s.pos++

		c := copy(p[n:], frame[:frameBytes])
		if c < frameBytes {
			s.carry = append(s.carry[:0], frame[c:frameBytes]...)
		}
		n += c
	}
	return n, nil
}

func (s *toneStream) Close() error {
	return nil
}
