// ABOUTME: Tests for the mixer domain model
// ABOUTME: Verifies decoding, backpressure, reconnects, Read and client fan-out
package mixer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harper/ringmix/internal/infrastructure/ring"
)

// bytesSource serves the same PCM payload on every connect.
type bytesSource struct {
	data     []byte
	connects atomic.Int32
	fail     bool
}

func (s *bytesSource) Connect(ctx context.Context) (io.ReadCloser, error) {
	s.connects.Add(1)
	if s.fail {
		return nil, errors.New("unreachable")
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func testConfig() Config {
	return Config{
		ID:             "test",
		SampleRate:     8000,
		Channels:       1,
		FrameSamples:   4,
		Lookahead:      1,
		BlockingPeriod: 5 * time.Millisecond,
		ReconnectDelay: time.Hour,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	m, err := New(testConfig(), nil, ring.NewProtected[uint32](4), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.ID() != "test" {
		t.Errorf("expected ID 'test', got %q", m.ID())
	}
	if got := m.Stats().PoolSize; got != DefaultPoolFrames(4, 1) {
		t.Errorf("pool size %d, want %d", got, DefaultPoolFrames(4, 1))
	}
	if m.State() != Muted {
		t.Errorf("new mixer state %v, want muted", m.State())
	}
}

func TestNew_RejectsUnusableRing(t *testing.T) {
	_, err := New(testConfig(), nil, ring.NewGeneric[uint32](0), nil)
	if err == nil {
		t.Fatal("expected error for ring with no_memory status")
	}
}

func TestMixer_DecodesInOrder(t *testing.T) {
	src := &bytesSource{data: pcm(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)}
	decoded := ring.NewGeneric[uint32](8)
	m, err := New(testConfig(), src, decoded, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown()

	waitFor(t, func() bool { return m.Stats().Produced == 3 })

	for i, want := range []int16{1, 5, 9} {
		idx, st := decoded.Extract(ring.NonBlocking)
		if st != ring.NoError {
			t.Fatalf("frame %d: %v", i, st)
		}
		f := m.pool.Frame(idx)
		if f.N != 4 || f.Samples[0] != want {
			t.Errorf("frame %d = %v (n=%d), want first sample %d", i, f.Samples, f.N, want)
		}
	}
	waitFor(t, func() bool { return !m.SourceHealthy() })
}

func TestMixer_ShortTailFrame(t *testing.T) {
	src := &bytesSource{data: append(pcm(1, 2, 3, 4, 5), 0xff)}
	decoded := ring.NewProtected[uint32](4)
	m, _ := New(testConfig(), src, decoded, nil)
	m.Start()
	defer m.Shutdown()

	waitFor(t, func() bool { return m.Stats().Produced == 2 })
	decoded.Extract(ring.NonBlocking)
	idx, _ := decoded.Extract(ring.NonBlocking)
	f := m.pool.Frame(idx)
	if f.N != 1 || f.Samples[0] != 5 || f.Samples[1] != 0 {
		t.Errorf("tail frame = %v (n=%d), want [5 0 0 0] n=1", f.Samples, f.N)
	}
}

func TestMixer_BackpressureKeepsOrder(t *testing.T) {
	samples := make([]int16, 4*10)
	for i := range samples {
		samples[i] = int16(i / 4)
	}
	cfg := testConfig()
	cfg.PoolFrames = 12
	decoded := ring.NewProtected[uint32](2)
	m, _ := New(cfg, &bytesSource{data: pcm(samples...)}, decoded, nil)
	m.Start()
	defer m.Shutdown()

	waitFor(t, func() bool { return m.Stats().Backlog > 0 })
	if m.Stats().Backpressure == 0 {
		t.Error("full ring should be counted as backpressure")
	}

	deadline := time.Now().Add(5 * time.Second)
	for want := int16(0); want < 10; {
		if time.Now().After(deadline) {
			t.Fatalf("received %d of 10 frames", want)
		}
		idx, st := decoded.Extract(ring.NonBlocking)
		if st != ring.NoError {
			time.Sleep(time.Millisecond)
			continue
		}
		if got := m.pool.Frame(idx).Samples[0]; got != want {
			t.Fatalf("frame %d out of order: got %d", want, got)
		}
		m.pool.Release(idx)
		want++
	}
}

func TestMixer_ReconnectsAfterFailure(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Millisecond
	src := &bytesSource{fail: true}
	m, _ := New(cfg, src, ring.NewProtected[uint32](2), nil)
	m.Start()

	waitFor(t, func() bool { return src.connects.Load() >= 3 })
	m.Shutdown()

	if m.SourceHealthy() {
		t.Error("failing source should not be healthy")
	}
	if m.Stats().Reconnects == 0 {
		t.Error("expected reconnects to be counted")
	}
}

func TestMixer_ReadProducesPresentedPCM(t *testing.T) {
	cfg := testConfig()
	decoded := ring.NewProtected[uint32](4)
	m, _ := New(cfg, nil, decoded, nil)

	// Queue two full-scale frames by hand; lookahead 1 presents one.
	for i := 0; i < 2; i++ {
		idx, _ := m.pool.Acquire(0)
		f := m.pool.Frame(idx)
		for j := range f.Samples {
			f.Samples[j] = 8000
		}
		decoded.Insert(idx)
	}

	buf := make([]byte, 6) // smaller than a frame
	n, err := m.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("Read = (%d, %v)", n, err)
	}
	first := int16(binary.LittleEndian.Uint16(buf))
	if first <= 0 || first >= 8000 {
		t.Errorf("first sample %d should be on the fade-in ramp", first)
	}

	rest := make([]byte, 2)
	m.Read(rest)
	if m.Stats().Guard.Presented != 1 {
		t.Errorf("presented %d frames, want 1 (remainder served from pending)", m.Stats().Guard.Presented)
	}
}

func TestMixer_FanOutToClients(t *testing.T) {
	m, _ := New(testConfig(), &bytesSource{fail: true}, ring.NewProtected[uint32](2), nil)
	m.Start()
	defer m.Shutdown()

	c := &Client{ID: "c1"}
	chunks := m.Subscribe(c)
	if m.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", m.ClientCount())
	}

	out := make([]int16, 4)
	m.ReadFrame(out)

	select {
	case chunk := <-chunks:
		if len(chunk) != 8 {
			t.Errorf("chunk len %d, want 8", len(chunk))
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive chunk")
	}

	m.Unsubscribe(c)
	if m.ClientCount() != 0 {
		t.Errorf("clients = %d after unsubscribe", m.ClientCount())
	}
}

func TestMixer_StopResume(t *testing.T) {
	m, _ := New(testConfig(), nil, ring.NewProtected[uint32](2), nil)
	m.Stop()
	if !m.guard.stopped.Load() {
		t.Error("Stop should stop the guard")
	}
	m.Resume()
	if m.guard.stopped.Load() {
		t.Error("Resume should clear stop")
	}
}

func TestMixer_ReadFrameDoesNotAllocateWithClients(t *testing.T) {
	m, _ := New(testConfig(), nil, ring.NewProtected[uint32](2), nil)
	c := &Client{ID: "c1"}
	m.Subscribe(c)
	defer m.Unsubscribe(c)

	out := make([]int16, 4)
	// The fan-out goroutine is not running, so the bus fills and later
	// frames take the drop path; neither path may allocate.
	allocs := testing.AllocsPerRun(200, func() {
		m.ReadFrame(out)
	})
	if allocs != 0 {
		t.Errorf("ReadFrame allocated %.1f times per call with a client subscribed", allocs)
	}
	if m.Stats().ClientDrops == 0 {
		t.Error("expected frames to be dropped for clients once the bus filled")
	}
}

func TestMixer_ChunkBuffersAreRecycled(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkBusCap = 2
	m, _ := New(cfg, &bytesSource{fail: true}, ring.NewProtected[uint32](2), nil)
	m.Start()
	defer m.Shutdown()

	c := &Client{ID: "c1"}
	chunks := m.Subscribe(c)
	defer m.Unsubscribe(c)

	out := make([]int16, 4)
	for i := 0; i < 20; i++ {
		m.ReadFrame(out)
		select {
		case <-chunks:
		case <-time.After(time.Second):
			t.Fatalf("chunk %d never delivered", i)
		}
	}
	if drops := m.Stats().ClientDrops; drops != 0 {
		t.Errorf("%d chunks dropped with a bus of 2 and a reader keeping up", drops)
	}
}
