// Package transport sends compressed frames to a monitoring endpoint using
// marker framing over UDP or TCP, dropping frames while a send is in flight.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

const defaultDialTimeout = 3 * time.Second

// DialFunc opens a connection to the remote endpoint.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option customizes a Transport.
type Option func(*Transport)

// WithGuard replaces the default semaphore guard.
func WithGuard(g Guard) Option {
	return func(t *Transport) { t.guard = g }
}

// WithDialer replaces net.Dialer.DialContext.
func WithDialer(d DialFunc) Option {
	return func(t *Transport) { t.dial = d }
}

// WithLogger sets the logger used for per-chunk errors.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// Stats counts payload outcomes. Sent only counts payloads whose every
// chunk was written.
type Stats struct {
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
	ChunkErrors uint64 `json:"chunkErrors"`
}

// Transport owns the remote endpoint configuration and the transmission
// guard. A datagram socket is kept open across payloads and reopened after a
// write error; stream mode uses one connection per payload.
type Transport struct {
	guard  Guard
	dial   DialFunc
	logger *slog.Logger

	mu         sync.Mutex
	cfg        core.TransportConfig
	conn       net.Conn // cached datagram socket
	generation uint64

	wg sync.WaitGroup

	sent        atomic.Uint64
	dropped     atomic.Uint64
	chunkErrors atomic.Uint64
}

// New creates a transport for cfg. The config is normalized but not
// validated; Configure validates.
func New(cfg core.TransportConfig, opts ...Option) *Transport {
	t := &Transport{cfg: cfg.Normalized()}
	for _, opt := range opts {
		opt(t)
	}
	if t.guard == nil {
		t.guard = NewGuard()
	}
	if t.dial == nil {
		d := &net.Dialer{Timeout: defaultDialTimeout}
		t.dial = d.DialContext
	}
	if t.logger == nil {
		t.logger = util.GetLogger().With("component", "transport")
	}
	return t
}

// Configure replaces the endpoint configuration. It must only be called
// while no session is active.
func (t *Transport) Configure(cfg core.TransportConfig) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	t.generation++
	t.closeConnLocked()
	return nil
}

// Config returns the current endpoint configuration.
func (t *Transport) Config() core.TransportConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Quality returns the configured compression quality.
func (t *Transport) Quality() int {
	return t.Config().Quality
}

// Send transmits payload on the calling goroutine. It returns false, without
// sending anything, when another transmission holds the guard.
func (t *Transport) Send(payload []byte) bool {
	if !t.guard.TryAcquire() {
		t.dropped.Add(1)
		return false
	}
	defer t.guard.Release()
	t.transmit(payload)
	return true
}

// SendAsync admits payload through the guard and transmits it on a new
// goroutine. It returns false when the payload was dropped.
func (t *Transport) SendAsync(payload []byte) bool {
	if !t.guard.TryAcquire() {
		t.dropped.Add(1)
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.guard.Release()
		t.transmit(payload)
	}()
	return true
}

// Wait blocks until every admitted asynchronous transmission has finished.
func (t *Transport) Wait() {
	t.wg.Wait()
}

// Close waits for in-flight transmissions and closes the cached socket.
func (t *Transport) Close() error {
	t.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeConnLocked()
	return nil
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Sent:        t.sent.Load(),
		Dropped:     t.dropped.Load(),
		ChunkErrors: t.chunkErrors.Load(),
	}
}

func (t *Transport) closeConnLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// transmit writes every chunk of payload. In datagram mode errors are
// counted and logged per chunk and the remaining chunks are still attempted.
// In stream mode a failure abandons the rest of the payload and counts every
// unsent chunk as an error.
func (t *Transport) transmit(payload []byte) {
	t.mu.Lock()
	cfg := t.cfg
	gen := t.generation
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if !cfg.UseDatagram {
		// Stream framing relies on a fresh connection per payload.
		conn = nil
	}

	chunks := Frame(payload)
	failed := 0
	fail := func(n int) {
		failed += n
		t.chunkErrors.Add(uint64(n))
	}
	for i, chunk := range chunks {
		if conn == nil {
			c, err := t.dial(context.Background(), cfg.Network(), cfg.Address())
			if err != nil {
				t.logger.Warn("Failed to dial remote", "addr", cfg.Address(), "network", cfg.Network(), "chunk", i, "error", err)
				if !cfg.UseDatagram {
					fail(len(chunks) - i)
					break
				}
				fail(1)
				continue
			}
			conn = c
		}
		if err := writeChunk(conn, chunk); err != nil {
			t.logger.Warn("Failed to send chunk", "addr", cfg.Address(), "chunk", i, "size", len(chunk), "error", err)
			_ = conn.Close()
			conn = nil
			if !cfg.UseDatagram {
				// A new stream would carry the rest without its start marker.
				fail(len(chunks) - i)
				break
			}
			fail(1)
		}
	}

	if failed == 0 {
		t.sent.Add(1)
	}
	t.logger.Debug("Payload transmitted", "size", len(payload), "failedChunks", failed)

	if conn == nil {
		return
	}
	if !cfg.UseDatagram {
		_ = conn.Close()
		return
	}
	t.mu.Lock()
	if t.generation == gen && t.conn == nil {
		t.conn = conn
		conn = nil
	}
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func writeChunk(conn net.Conn, chunk []byte) error {
	n, err := conn.Write(chunk)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrSocket, err)
	}
	if n != len(chunk) {
		return fmt.Errorf("%w: short write %d of %d bytes", core.ErrSocket, n, len(chunk))
	}
	return nil
}
