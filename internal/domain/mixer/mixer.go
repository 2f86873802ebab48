// ABOUTME: Mixer coordinating PCM decoding, the frame ring and output clients
// ABOUTME: Manages the producer goroutine and fan-out of presented frames
package mixer

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"github.com/harper/ringmix/internal/domain"
	"github.com/harper/ringmix/internal/infrastructure/ring"
)

// DefaultBlockingPeriod bounds how long the decoder waits for a free frame
// before retrying its backlog.
const DefaultBlockingPeriod = 20 * time.Millisecond

type Config struct {
	ID             string
	SampleRate     int
	Channels       int
	FrameSamples   int
	Lookahead      int
	PoolFrames     int
	BlockingPeriod time.Duration
	ReconnectDelay time.Duration
	ChunkBusCap    int
}

type Stats struct {
	ID            string     `json:"id"`
	SourceHealthy bool       `json:"source_healthy"`
	RingLen       int        `json:"ring_len"`
	RingCap       int        `json:"ring_cap"`
	PoolFree      int        `json:"pool_free"`
	PoolSize      int        `json:"pool_size"`
	Backlog       int64      `json:"backlog"`
	Produced      uint64     `json:"produced"`
	Backpressure  uint64     `json:"backpressure"`
	Reconnects    uint64     `json:"reconnects"`
	Clients       int        `json:"clients"`
	ClientDrops   uint64     `json:"client_drops"`
	Guard         GuardStats `json:"guard"`
}

// Mixer moves PCM from a source through a ring of frame descriptors to a
// paced output. The decoded ring is injected so its locking policy is
// chosen by the caller.
type Mixer struct {
	id           string
	sampleRate   int
	channels     int
	frameSamples int

	source  domain.StreamSource
	decoded ring.Ring[uint32]
	pool    *Pool
	guard   *Guard
	logger  *slog.Logger

	blockingPeriod time.Duration
	reconnectDelay time.Duration

	// backlog is owned by the decoder goroutine.
	backlog    *queue.Queue
	backlogLen atomic.Int64

	sourceHealthy atomic.Bool
	produced      atomic.Uint64
	backpressure  atomic.Uint64
	reconnects    atomic.Uint64

	clients   map[*Client]struct{}
	clientsMu sync.Mutex

	// Encoded frames for clients come from a preallocated free list so the
	// output pull never allocates; runFanOut copies them per client.
	chunkBufs  [][]byte
	chunkFree  *ring.ProtectedRing[uint32]
	chunkBus   chan chunkRef
	chunkDrops atomic.Uint64

	// readMu serializes output pulls; pending holds the unread tail of the
	// last frame handed to Read.
	readMu     sync.Mutex
	scratch    []int16
	pendingBuf []byte
	pending    []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type chunkRef struct {
	idx uint32
	n   int
}

type Client struct {
	ID string
	ch chan []byte
}

func New(cfg Config, source domain.StreamSource, decoded ring.Ring[uint32], logger *slog.Logger) (*Mixer, error) {
	if decoded == nil {
		return nil, errors.New("mixer: nil ring")
	}
	if st := decoded.InitStatus(); st != ring.NoError {
		return nil, errors.Errorf("mixer %s: ring: %v", cfg.ID, st)
	}
	if cfg.Channels < 1 || cfg.FrameSamples < 1 {
		return nil, errors.Errorf("mixer %s: invalid frame geometry %dx%d", cfg.ID, cfg.FrameSamples, cfg.Channels)
	}
	if cfg.Lookahead < 1 {
		cfg.Lookahead = 1
	}
	if cfg.PoolFrames <= 0 {
		cfg.PoolFrames = DefaultPoolFrames(decoded.Cap(), cfg.Lookahead)
	}
	if cfg.BlockingPeriod <= 0 {
		cfg.BlockingPeriod = DefaultBlockingPeriod
	}
	if cfg.ChunkBusCap <= 0 {
		cfg.ChunkBusCap = 32
	}
	if logger == nil {
		logger = slog.Default()
	}

	frameLen := cfg.FrameSamples * cfg.Channels
	pool, err := NewPool(cfg.PoolFrames, frameLen)
	if err != nil {
		return nil, errors.Wrapf(err, "mixer %s", cfg.ID)
	}

	guard := NewGuard(GuardConfig{
		Lookahead:    cfg.Lookahead,
		FrameSamples: cfg.FrameSamples,
		Channels:     cfg.Channels,
	}, decoded, pool)

	// One spare buffer beyond the bus so a full bus never starves the
	// chunk being handed over.
	chunkFree := ring.NewProtected[uint32](cfg.ChunkBusCap + 1)
	chunkBufs := make([][]byte, cfg.ChunkBusCap+1)
	for i := range chunkBufs {
		chunkBufs[i] = make([]byte, 2*frameLen)
		chunkFree.Insert(uint32(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Mixer{
		id:             cfg.ID,
		sampleRate:     cfg.SampleRate,
		channels:       cfg.Channels,
		frameSamples:   cfg.FrameSamples,
		source:         source,
		decoded:        decoded,
		pool:           pool,
		guard:          guard,
		logger:         logger.With("mixer", cfg.ID),
		blockingPeriod: cfg.BlockingPeriod,
		reconnectDelay: cfg.ReconnectDelay,
		backlog:        queue.New(),
		clients:        make(map[*Client]struct{}),
		chunkBufs:      chunkBufs,
		chunkFree:      chunkFree,
		chunkBus:       make(chan chunkRef, cfg.ChunkBusCap),
		scratch:        make([]int16, frameLen),
		pendingBuf:     make([]byte, 2*frameLen),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// DefaultPoolFrames covers a full ring, the guard window, the frame being
// presented and the frame being filled.
func DefaultPoolFrames(capacity, lookahead int) int {
	return capacity + lookahead + 3
}

func (m *Mixer) ID() string {
	return m.id
}

func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

func (m *Mixer) Channels() int {
	return m.channels
}

func (m *Mixer) FrameSamples() int {
	return m.frameSamples
}

func (m *Mixer) State() State {
	return m.guard.State()
}

func (m *Mixer) SourceHealthy() bool {
	return m.sourceHealthy.Load()
}

func (m *Mixer) SetSourceHealthy(healthy bool) {
	m.sourceHealthy.Store(healthy)
}

// Stop fades the output to mute. The decoder keeps filling the ring until
// backpressure stalls it.
func (m *Mixer) Stop() {
	m.guard.Stop()
}

func (m *Mixer) Resume() {
	m.guard.Resume()
}

func (m *Mixer) Stats() Stats {
	return Stats{
		ID:            m.id,
		SourceHealthy: m.SourceHealthy(),
		RingLen:       m.decoded.Len(),
		RingCap:       m.decoded.Cap(),
		PoolFree:      m.pool.Free(),
		PoolSize:      m.pool.Size(),
		Backlog:       m.backlogLen.Load(),
		Produced:      m.produced.Load(),
		Backpressure:  m.backpressure.Load(),
		Reconnects:    m.reconnects.Load(),
		Clients:       m.ClientCount(),
		ClientDrops:   m.chunkDrops.Load(),
		Guard:         m.guard.Stats(),
	}
}

func (m *Mixer) AddClient(c *Client) {
	m.clientsMu.Lock()
	m.clients[c] = struct{}{}
	m.clientsMu.Unlock()
}

func (m *Mixer) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

func (m *Mixer) Subscribe(c *Client) <-chan []byte {
	c.ch = make(chan []byte, 64)
	m.AddClient(c)
	return c.ch
}

func (m *Mixer) Unsubscribe(c *Client) {
	m.clientsMu.Lock()
	delete(m.clients, c)
	if c.ch != nil {
		close(c.ch)
		c.ch = nil
	}
	m.clientsMu.Unlock()
}

func (m *Mixer) Start() error {
	m.wg.Add(2)

	// Producer: source -> frames -> ring
	go m.runDecoder()

	// Presented frames -> subscribed clients
	go m.runFanOut()

	m.logger.Info("mixer started",
		"ring_cap", m.decoded.Cap(),
		"pool_frames", m.pool.Size(),
		"sample_rate", m.sampleRate,
		"channels", m.channels)
	return nil
}

func (m *Mixer) Shutdown() error {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("mixer stopped", "produced", m.produced.Load())
	return nil
}

// ReadFrame presents the next frame into out, which must hold
// FrameSamples*Channels samples. Each call consumes one output slot.
func (m *Mixer) ReadFrame(out []int16) State {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	return m.readFrame(out)
}

func (m *Mixer) readFrame(out []int16) State {
	st := m.guard.Next(out)
	if m.ClientCount() > 0 {
		m.publish(out)
	}
	return st
}

// Read implements io.Reader over the presented output as interleaved
// s16le PCM, for devices that pull arbitrary byte counts.
func (m *Mixer) Read(p []byte) (int, error) {
	m.readMu.Lock()
	defer m.readMu.Unlock()

	n := 0
	for n < len(p) {
		if len(m.pending) == 0 {
			m.readFrame(m.scratch)
			encodePCM(m.pendingBuf, m.scratch)
			m.pending = m.pendingBuf
		}
		c := copy(p[n:], m.pending)
		m.pending = m.pending[c:]
		n += c
	}
	return n, nil
}

// publish hands an encoded copy of samples to the fan-out goroutine. When
// the fan-out is behind the frame is skipped for clients.
func (m *Mixer) publish(samples []int16) {
	idx, st := m.chunkFree.Extract(ring.NonBlocking)
	if st != ring.NoError {
		m.chunkDrops.Add(1)
		return
	}
	buf := m.chunkBufs[idx]
	if len(samples) > len(buf)/2 {
		samples = samples[:len(buf)/2]
	}
	encodePCM(buf, samples)

	select {
	case m.chunkBus <- chunkRef{idx: idx, n: 2 * len(samples)}:
	default:
		m.chunkFree.Insert(idx)
		m.chunkDrops.Add(1)
	}
}

func (m *Mixer) runDecoder() {
	defer m.wg.Done()

	for {
		if m.ctx.Err() != nil {
			return
		}

		stream, err := m.source.Connect(m.ctx)
		if err != nil {
			m.SetSourceHealthy(false)
			if m.ctx.Err() == nil {
				m.logger.Warn("source connect failed", "error", err)
			}
			if !m.sleep(m.reconnectDelay) {
				return
			}
			m.reconnects.Add(1)
			continue
		}

		m.SetSourceHealthy(true)
		err = m.pump(stream)
		stream.Close()

		if m.ctx.Err() != nil {
			return
		}
		m.SetSourceHealthy(false)
		m.logger.Warn("source ended", "error", err)
		if !m.sleep(m.reconnectDelay) {
			return
		}
		m.reconnects.Add(1)
	}
}

// pump decodes stream into pool frames until it fails or the mixer stops.
func (m *Mixer) pump(stream io.Reader) error {
	raw := make([]byte, 2*m.frameSamples*m.channels)

	for {
		m.drainBacklog()

		idx, ok := m.pool.Acquire(m.blockingPeriod)
		if !ok {
			if m.ctx.Err() != nil {
				return m.ctx.Err()
			}
			continue
		}

		n, err := io.ReadFull(stream, raw)
		if n >= 2 {
			f := m.pool.Frame(idx)
			f.N = decodePCM(f.Samples, raw[:n-n%2])
			m.enqueue(idx)
			m.produced.Add(1)
		} else {
			m.pool.Release(idx)
		}

		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return errors.Wrap(err, "read source")
		}
		if m.ctx.Err() != nil {
			return m.ctx.Err()
		}
	}
}

// enqueue inserts a filled frame, parking it in the backlog when the ring
// is full so frame order is preserved.
func (m *Mixer) enqueue(idx uint32) {
	if m.backlog.Length() == 0 {
		if m.decoded.Insert(idx) == ring.NoError {
			return
		}
		m.backpressure.Add(1)
	}
	m.backlog.Add(idx)
	m.backlogLen.Store(int64(m.backlog.Length()))
}

func (m *Mixer) drainBacklog() {
	for m.backlog.Length() > 0 {
		if m.decoded.Insert(m.backlog.Peek().(uint32)) != ring.NoError {
			break
		}
		m.backlog.Remove()
	}
	m.backlogLen.Store(int64(m.backlog.Length()))
}

// sleep waits d before a reconnect, still feeding backlogged frames to the
// ring. It reports false when the mixer is shutting down.
func (m *Mixer) sleep(d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	tick := time.NewTicker(m.blockingPeriod)
	defer tick.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return false
		case <-t.C:
			return true
		case <-tick.C:
			m.drainBacklog()
		}
	}
}

func (m *Mixer) runFanOut() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ref := <-m.chunkBus:
			// Distribute chunk to all subscribed clients
			data := m.chunkBufs[ref.idx][:ref.n]
			m.clientsMu.Lock()
			for client := range m.clients {
				if client.ch != nil {
					chunk := make([]byte, len(data))
					copy(chunk, data)
					select {
					case client.ch <- chunk:
					default:
						// Client buffer full, skip this chunk
					}
				}
			}
			m.clientsMu.Unlock()
			m.chunkFree.Insert(ref.idx)
		}
	}
}

func decodePCM(dst []int16, raw []byte) int {
	n := len(raw) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return n
}

func encodePCM(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(s))
	}
}
