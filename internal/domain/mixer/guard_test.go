// ABOUTME: Tests for the starvation-guarded consumer
// ABOUTME: Verifies prebuffering, bounded fade-out, fade-in and stop handling
package mixer

import (
	"testing"

	"github.com/harper/ringmix/internal/infrastructure/ring"
)

const (
	testFrameSamples = 8
	testChannels     = 2
	testLevel        = 10000
)

type guardHarness struct {
	t     *testing.T
	pool  *Pool
	in    ring.Ring[uint32]
	guard *Guard
	out   []int16
}

func newHarness(t *testing.T, lookahead int) *guardHarness {
	t.Helper()
	in := ring.NewProtected[uint32](16)
	pool, err := NewPool(DefaultPoolFrames(16, lookahead), testFrameSamples*testChannels)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	g := NewGuard(GuardConfig{
		Lookahead:    lookahead,
		FrameSamples: testFrameSamples,
		Channels:     testChannels,
	}, in, pool)
	return &guardHarness{
		t:     t,
		pool:  pool,
		in:    in,
		guard: g,
		out:   make([]int16, testFrameSamples*testChannels),
	}
}

// produce queues n frames filled with a constant level.
func (h *guardHarness) produce(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		idx, ok := h.pool.Acquire(0)
		if !ok {
			h.t.Fatal("pool exhausted")
		}
		f := h.pool.Frame(idx)
		for j := range f.Samples {
			f.Samples[j] = testLevel
		}
		f.N = len(f.Samples)
		if st := h.in.Insert(idx); st != ring.NoError {
			h.t.Fatalf("Insert = %v", st)
		}
	}
}

func (h *guardHarness) next() State {
	return h.guard.Next(h.out)
}

func silent(out []int16) bool {
	for _, s := range out {
		if s != 0 {
			return false
		}
	}
	return true
}

func TestGuard_StartupStarvationIsMuted(t *testing.T) {
	h := newHarness(t, 3)

	for i := 0; i < 5; i++ {
		if st := h.next(); st != Muted {
			t.Fatalf("cycle %d: state %v, want muted", i, st)
		}
		if !silent(h.out) {
			t.Fatal("output should be silent before any data")
		}
	}

	stats := h.guard.Stats()
	if stats.StartupStarvations != 5 || stats.Underruns != 0 {
		t.Errorf("startup = %d underruns = %d, want 5/0", stats.StartupStarvations, stats.Underruns)
	}
}

func TestGuard_PrebuffersLookahead(t *testing.T) {
	h := newHarness(t, 3)

	// Three frames are not enough: one must be presented with three behind it.
	h.produce(3)
	if st := h.next(); st != Muted || !silent(h.out) {
		t.Fatalf("state %v, want muted while prebuffering", st)
	}

	h.produce(1)
	if st := h.next(); st != FadingIn {
		t.Fatalf("state %v, want fading_in", st)
	}
	if h.out[0] >= testLevel {
		t.Errorf("first presented sample %d should start below full level", h.out[0])
	}
	if h.guard.window.Len() != 3 {
		t.Errorf("window holds %d frames, want 3", h.guard.window.Len())
	}
}

func TestGuard_FadeInIsRamp(t *testing.T) {
	const lookahead = 4
	h := newHarness(t, lookahead)

	prev := int16(-1)
	for cycle := 0; cycle < lookahead+2; cycle++ {
		h.produce(lookahead + 1 - h.guard.window.Len() - h.in.Len())
		st := h.next()
		for i := 0; i < len(h.out); i += testChannels {
			if h.out[i] < prev {
				t.Fatalf("cycle %d: sample %d decreased during fade-in", cycle, i)
			}
			prev = h.out[i]
		}
		if cycle == lookahead-1 && st != Playing {
			t.Errorf("state %v after %d frames, want playing", st, lookahead)
		}
	}
	if prev != testLevel {
		t.Errorf("final level %d, want %d", prev, testLevel)
	}
}

func TestGuard_StarvationFadesToMuteWithinWindow(t *testing.T) {
	const lookahead = 4
	h := newHarness(t, lookahead)

	// Reach steady playback.
	for i := 0; i < 2*lookahead; i++ {
		h.produce(lookahead + 1 - h.guard.window.Len() - h.in.Len())
		h.next()
	}
	if h.guard.State() != Playing {
		t.Fatalf("state %v, want playing", h.guard.State())
	}

	// Producer stops. Output must reach mute within lookahead+1 cycles and
	// never increase on the way down.
	prev := int16(testLevel)
	cycles := 0
	for ; cycles <= lookahead+1; cycles++ {
		st := h.next()
		for i := 0; i < len(h.out); i += testChannels {
			if h.out[i] > prev {
				t.Fatalf("cycle %d: level rose during fade-out", cycles)
			}
			prev = h.out[i]
		}
		if st == Muted {
			break
		}
	}
	if cycles > lookahead+1 {
		t.Fatalf("not muted after %d cycles", cycles)
	}
	if last := h.out[len(h.out)-testChannels]; last != 0 {
		t.Errorf("fade ended at %d, want 0", last)
	}
	if st := h.next(); st != Muted || !silent(h.out) {
		t.Errorf("state %v after fade, want silent mute", st)
	}

	stats := h.guard.Stats()
	if stats.FadeOuts != 1 {
		t.Errorf("fade outs = %d, want 1", stats.FadeOuts)
	}
	if stats.Underruns == 0 {
		t.Error("starvation after playback should count as underrun")
	}
	if h.pool.Free() != h.pool.Size() {
		t.Errorf("pool free = %d, want all %d frames released", h.pool.Free(), h.pool.Size())
	}
}

func TestGuard_RecoveryFadesIn(t *testing.T) {
	const lookahead = 2
	h := newHarness(t, lookahead)

	for i := 0; i < 4; i++ {
		h.produce(lookahead + 1 - h.guard.window.Len() - h.in.Len())
		h.next()
	}
	// Starve for one cycle, then refill.
	h.next()
	if h.guard.State() != FadingOut {
		t.Fatalf("state %v, want fading_out", h.guard.State())
	}
	level := h.out[len(h.out)-testChannels]

	h.produce(lookahead + 1 - h.guard.window.Len())
	st := h.next()
	if st != FadingIn {
		t.Fatalf("state %v, want fading_in", st)
	}
	// No step: the first recovered sample stays close to where the fade left off.
	if d := int(h.out[0]) - int(level); d > testLevel/(lookahead*testFrameSamples)+1 {
		t.Errorf("level jumped by %d on recovery", d)
	}
	if h.guard.Stats().FadeIns != 2 {
		t.Errorf("fade ins = %d, want 2", h.guard.Stats().FadeIns)
	}
}

func TestGuard_StopUsesFadePath(t *testing.T) {
	const lookahead = 3
	h := newHarness(t, lookahead)

	for i := 0; i < 2*lookahead; i++ {
		h.produce(lookahead + 1 - h.guard.window.Len() - h.in.Len())
		h.next()
	}
	h.produce(4)
	queued := h.in.Len()

	h.guard.Stop()
	var st State
	for i := 0; i <= lookahead; i++ {
		st = h.next()
	}
	if st != Muted {
		t.Fatalf("state %v after stop, want muted", st)
	}
	if h.in.Len() != queued {
		t.Errorf("stopped guard extracted from ring: len %d, want %d", h.in.Len(), queued)
	}
	if h.guard.Stats().FadeOuts != 1 {
		t.Errorf("fade outs = %d, want 1", h.guard.Stats().FadeOuts)
	}

	h.guard.Resume()
	h.produce(lookahead + 1 - h.in.Len())
	if st := h.next(); st != FadingIn {
		t.Errorf("state %v after resume, want fading_in", st)
	}
}

func TestGuard_RecoversWhenProducerKeepsPace(t *testing.T) {
	const lookahead = 4
	h := newHarness(t, lookahead)

	for i := 0; i < 2*lookahead; i++ {
		h.produce(lookahead + 1 - h.guard.window.Len() - h.in.Len())
		h.next()
	}
	if h.guard.State() != Playing {
		t.Fatalf("state %v, want playing", h.guard.State())
	}

	// One missed frame, then the producer delivers exactly one frame per
	// output cycle.
	h.next()

	sawFadeIn := false
	audible := 0
	for cycle := 0; cycle < 8*lookahead; cycle++ {
		h.produce(1)
		st := h.next()
		if st == FadingIn {
			sawFadeIn = true
		}
		if !silent(h.out) {
			audible++
		}
	}

	if !sawFadeIn {
		t.Error("guard never faded back in")
	}
	if st := h.guard.State(); st != Playing {
		t.Errorf("state %v after recovery, want playing", st)
	}
	if got := h.guard.Stats().FadeIns; got != 2 {
		t.Errorf("fade ins = %d, want 2", got)
	}
	if audible < 4*lookahead {
		t.Errorf("only %d audible frames after recovery", audible)
	}
	// Frames consumed while muted are kept, not thrown away.
	if got := h.guard.window.Len(); got != lookahead {
		t.Errorf("window holds %d frames, want %d", got, lookahead)
	}
}
