// Package framepool hands raw frames from a render target to a single
// consumer goroutine, keeping only the newest undelivered frames.
package framepool

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// DefaultCapacity is the number of frames that may be in flight at once:
// one being processed and one waiting.
const DefaultCapacity = 2

// Handler processes one frame. It runs on the pool goroutine and the pool
// releases the frame once it returns.
type Handler func(frame *core.RawFrame)

// Stats counts frames seen by a pool.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Pool is a bounded latest-wins frame inbox. Submit never blocks the
// producer; when the pool is full the oldest undelivered frame is released
// and counted as dropped.
type Pool struct {
	capacity int
	handler  Handler
	logger   *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*core.RawFrame
	acquired int
	closed   bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}

	submitted atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a pool. A capacity below 1 selects DefaultCapacity.
func New(capacity int, handler Handler, logger *slog.Logger) *Pool {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = util.GetLogger()
	}
	p := &Pool{
		capacity: capacity,
		handler:  handler,
		logger:   logger,
		done:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the consumer goroutine. Calling it again has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		go p.loop()
	})
}

// Submit implements core.Surface.
func (p *Pool) Submit(frame *core.RawFrame) {
	if frame == nil {
		return
	}
	p.submitted.Add(1)

	var evicted []*core.RawFrame
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.dropped.Add(1)
		frame.Release()
		return
	}
	for len(p.pending) > 0 && len(p.pending)+p.acquired >= p.capacity {
		evicted = append(evicted, p.pending[0])
		p.pending = p.pending[1:]
	}
	if len(p.pending)+p.acquired >= p.capacity {
		// Every slot is held by the consumer; the new frame loses.
		evicted = append(evicted, frame)
	} else {
		p.pending = append(p.pending, frame)
		p.cond.Signal()
	}
	p.mu.Unlock()

	for _, f := range evicted {
		p.dropped.Add(1)
		f.Release()
	}
}

func (p *Pool) takeLatestLocked() (*core.RawFrame, []*core.RawFrame) {
	n := len(p.pending)
	if n == 0 {
		return nil, nil
	}
	latest := p.pending[n-1]
	stale := p.pending[:n-1]
	p.pending = nil
	return latest, stale
}

func (p *Pool) loop() {
	defer close(p.done)

	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		frame, stale := p.takeLatestLocked()
		p.acquired++
		p.mu.Unlock()

		for _, f := range stale {
			p.dropped.Add(1)
			f.Release()
		}

		p.deliver(frame)

		p.mu.Lock()
		p.acquired--
		p.mu.Unlock()
	}
}

func (p *Pool) deliver(frame *core.RawFrame) {
	defer frame.Release()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Frame handler panicked", "panic", r)
		}
	}()
	p.delivered.Add(1)
	if p.handler != nil {
		p.handler(frame)
	}
}

// Close stops the consumer goroutine, releasing every pending frame. It
// waits for an in-progress handler call to return. Safe to call more than
// once; frames submitted afterwards are released immediately.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		pending := p.pending
		p.pending = nil
		p.cond.Broadcast()
		p.mu.Unlock()

		for _, f := range pending {
			p.dropped.Add(1)
			f.Release()
		}

		// Start may never have been called.
		p.startOnce.Do(func() { close(p.done) })
		<-p.done
		p.logger.Debug("Frame pool closed", "delivered", p.delivered.Load(), "dropped", p.dropped.Load())
	})
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
	}
}
