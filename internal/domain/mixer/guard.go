// ABOUTME: Starvation-guarded consumer for a ring of decoded frames
// ABOUTME: Keeps a look-ahead window and fades to mute instead of glitching
package mixer

import (
	"sync/atomic"

	"github.com/harper/ringmix/internal/infrastructure/ring"
)

// State is the output envelope of a Guard.
type State int

const (
	Muted State = iota
	FadingIn
	Playing
	FadingOut
)

func (s State) String() string {
	switch s {
	case Muted:
		return "muted"
	case FadingIn:
		return "fading_in"
	case Playing:
		return "playing"
	case FadingOut:
		return "fading_out"
	default:
		return "unknown"
	}
}

type GuardConfig struct {
	Lookahead    int // frames retained before presenting
	FrameSamples int // sample frames per frame (per channel)
	Channels     int
}

type GuardStats struct {
	Presented          uint64 `json:"presented"`
	StartupStarvations uint64 `json:"startup_starvations"`
	Underruns          uint64 `json:"underruns"`
	FadeOuts           uint64 `json:"fade_outs"`
	FadeIns            uint64 `json:"fade_ins"`
	State              string `json:"state"`
}

// Guard drains a ring of frame descriptors on behalf of a real-time output.
//
// Next is called once per free output slot and never blocks. Frames are
// presented only once Lookahead more are already queued behind them. When
// the ring runs dry the retained frames are played out under a fade that
// reaches zero gain on the last one; Stop uses the same path. Fade-in uses
// a fixed ramp of Lookahead frames. Once the fade reaches zero the guard
// stops presenting and prebuffers again from whatever the window still
// holds.
//
// Next must be called from one goroutine only; Stop, Resume and Stats may
// be called from any goroutine.
type Guard struct {
	in     ring.Ring[uint32]
	pool   *Pool
	window *ring.UnprotectedRing[uint32]

	lookahead    int
	frameSamples int
	channels     int
	step         float64 // fade-in gain delta per sample frame

	gain   float64
	target float64
	primed bool

	stopped atomic.Bool
	state   atomic.Int32

	presented          atomic.Uint64
	startupStarvations atomic.Uint64
	underruns          atomic.Uint64
	fadeOuts           atomic.Uint64
	fadeIns            atomic.Uint64
}

func NewGuard(cfg GuardConfig, in ring.Ring[uint32], pool *Pool) *Guard {
	if cfg.Lookahead < 1 {
		cfg.Lookahead = 1
	}
	if cfg.Channels < 1 {
		cfg.Channels = 1
	}
	return &Guard{
		in:           in,
		pool:         pool,
		window:       ring.NewUnprotected[uint32](cfg.Lookahead + 1),
		lookahead:    cfg.Lookahead,
		frameSamples: cfg.FrameSamples,
		channels:     cfg.Channels,
		step:         1 / float64(cfg.Lookahead*cfg.FrameSamples),
	}
}

// Next fills out (FrameSamples*Channels interleaved samples) with the next
// presented frame, or silence, and reports the resulting envelope state.
func (g *Guard) Next(out []int16) State {
	clear(out)

	starved := false
	if !g.stopped.Load() {
		for g.window.Len() <= g.lookahead {
			idx, st := g.in.Extract(ring.NonBlocking)
			if st != ring.NoError {
				starved = true
				break
			}
			g.window.Insert(idx)
		}
	}

	full := g.window.Len() > g.lookahead
	if starved && !full {
		if g.presented.Load() == 0 {
			g.startupStarvations.Add(1)
		} else {
			g.underruns.Add(1)
		}
	}

	switch {
	case full && !g.stopped.Load():
		if g.target != 1 {
			g.target = 1
			g.fadeIns.Add(1)
		}
		g.primed = true
	case g.primed && g.window.NonEmpty() && (g.target != 0 || g.gain > 0):
		if g.target != 0 {
			g.target = 0
			g.fadeOuts.Add(1)
		}
	default:
		// Prebuffering, or the fade has reached zero. Retained frames stay
		// in the window and count toward the next prebuffer.
		g.primed = false
		g.target = 0
		g.gain = 0
		return g.setState(Muted)
	}

	remaining := g.window.Len()
	idx, _ := g.window.Extract(ring.NonBlocking)
	g.present(out, g.pool.Frame(idx), remaining)
	g.pool.Release(idx)
	g.presented.Add(1)

	switch {
	case g.target == 1 && g.gain >= 1:
		return g.setState(Playing)
	case g.target == 1:
		return g.setState(FadingIn)
	case g.gain > 0:
		return g.setState(FadingOut)
	default:
		return g.setState(Muted)
	}
}

// present copies f into out while ramping gain toward the target. A
// fade-out is steep enough to reach zero within the remaining retained
// frames.
func (g *Guard) present(out []int16, f *Frame, remaining int) {
	step := g.step
	if g.target == 0 {
		if s := g.gain / float64(remaining*g.frameSamples); s > step {
			step = s
		}
	}

	n := len(out)
	if len(f.Samples) < n {
		n = len(f.Samples)
	}
	for i := 0; i < n; i += g.channels {
		switch {
		case g.gain < g.target:
			g.gain += step
			if g.gain > g.target {
				g.gain = g.target
			}
		case g.gain > g.target:
			g.gain -= step
			if g.gain < g.target {
				g.gain = g.target
			}
		}
		for c := 0; c < g.channels && i+c < n; c++ {
			out[i+c] = int16(float64(f.Samples[i+c]) * g.gain)
		}
	}
}

func (g *Guard) setState(s State) State {
	g.state.Store(int32(s))
	return s
}

// Stop fades the output to mute using the retained window. Queued frames
// stay in the ring until Resume.
func (g *Guard) Stop() {
	g.stopped.Store(true)
}

func (g *Guard) Resume() {
	g.stopped.Store(false)
}

func (g *Guard) State() State {
	return State(g.state.Load())
}

func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Presented:          g.presented.Load(),
		StartupStarvations: g.startupStarvations.Load(),
		Underruns:          g.underruns.Load(),
		FadeOuts:           g.fadeOuts.Load(),
		FadeIns:            g.fadeIns.Load(),
		State:              g.State().String(),
	}
}
