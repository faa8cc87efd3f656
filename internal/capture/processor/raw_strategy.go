package processor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/framepool"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// PayloadSender hands a compressed frame to the network. It must not block.
type PayloadSender interface {
	SendAsync(payload []byte) bool
}

// RawConfig configures a RawStrategy.
type RawConfig struct {
	Sender    PayloadSender
	Quality   int
	Snapshots *SnapshotDir // optional
	Logger    *slog.Logger
}

// RawStrategy receives raw frames through a frame pool, turns each into a
// JPEG of the logical display size and sends it through the transport.
type RawStrategy struct {
	cfg    RawConfig
	logger *slog.Logger

	proc RawProcessor
	pool *framepool.Pool

	stopOnce sync.Once
	done     chan struct{}

	processed       atomic.Uint64
	failed          atomic.Uint64
	payloadsDropped atomic.Uint64
}

// NewRawStrategy creates a raw-frame strategy.
func NewRawStrategy(cfg RawConfig) *RawStrategy {
	logger := cfg.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	return &RawStrategy{
		cfg:    cfg,
		logger: logger.With("strategy", "raw"),
		done:   make(chan struct{}),
	}
}

func (s *RawStrategy) Name() string { return "raw" }

func (s *RawStrategy) DrainsOnStop() bool { return false }

func (s *RawStrategy) Done() <-chan struct{} { return s.done }

// Start implements Strategy.
func (s *RawStrategy) Start(ctx context.Context, spec core.RenderTargetSpec) (core.Surface, error) {
	s.proc = RawProcessor{Width: spec.Width, Height: spec.Height, Quality: s.cfg.Quality}

	if s.cfg.Snapshots != nil {
		if err := s.cfg.Snapshots.Clear(); err != nil {
			// Snapshots are a debugging aid; capture goes on without them.
			s.logger.Warn("Failed to clear snapshot dir", "dir", s.cfg.Snapshots.Path, "error", err)
		}
	}

	s.pool = framepool.New(framepool.DefaultCapacity, s.handleFrame, s.logger)
	s.pool.Start()
	s.logger.Info("Raw strategy started", "width", spec.Width, "height", spec.Height, "quality", s.proc.Quality)
	return s.pool, nil
}

func (s *RawStrategy) handleFrame(frame *core.RawFrame) {
	defer frame.Release()

	img, err := s.proc.Process(frame)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("Dropping frame", "error", err)
		return
	}
	payload, err := s.proc.Compress(img)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("Dropping frame", "error", err)
		return
	}
	frame.Release()
	s.processed.Add(1)

	if s.cfg.Snapshots != nil {
		if _, err := s.cfg.Snapshots.Save(payload); err != nil {
			s.logger.Debug("Snapshot not written", "error", err)
		}
	}

	if s.cfg.Sender != nil && !s.cfg.Sender.SendAsync(payload) {
		s.payloadsDropped.Add(1)
		s.logger.Debug("Transmission in progress, payload dropped", "size", len(payload))
	}
}

// Stop closes the frame pool, waiting for the frame being processed.
func (s *RawStrategy) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if s.pool != nil {
			s.pool.Close()
		}
		close(s.done)
		s.logger.Info("Raw strategy stopped", "processed", s.processed.Load(), "failed", s.failed.Load())
	})
	return nil
}

// Stats implements Strategy.
func (s *RawStrategy) Stats() Stats {
	st := Stats{
		FramesProcessed: s.processed.Load(),
		FramesFailed:    s.failed.Load(),
		PayloadsDropped: s.payloadsDropped.Load(),
	}
	if s.pool != nil {
		st.FramesDropped = s.pool.Stats().Dropped
	}
	return st
}
