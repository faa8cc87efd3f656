package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// SampleWriter is the container side of the encoded strategy.
type SampleWriter interface {
	AddTrack(format core.TrackFormat) (int, error)
	Start() error
	WriteSample(sample core.EncodedSample) error
	Stop() error
	Close() error
	// Discard closes and removes the output.
	Discard() error
}

// EncodedConfig configures an EncodedStrategy.
type EncodedConfig struct {
	Encoder core.Encoder
	Writer  SampleWriter
	// Format carries the rate policy; width and height come from the
	// render target spec when zero.
	Format core.TrackFormat
	Logger *slog.Logger
	// OnWarning receives non-fatal failures such as a container that could
	// not be finalized.
	OnWarning func(err error)
}

// EncodedStrategy renders into an encoder's input surface and muxes every
// sample it emits into a container. Stop asks the encoder to drain so the
// last samples still reach the file.
type EncodedStrategy struct {
	cfg    EncodedConfig
	logger *slog.Logger

	started      atomic.Bool
	stopOnce     sync.Once
	teardownOnce sync.Once
	done         chan struct{}

	samples atomic.Uint64
	bytes   atomic.Uint64
}

// NewEncodedStrategy creates an encoded-sample strategy.
func NewEncodedStrategy(cfg EncodedConfig) *EncodedStrategy {
	logger := cfg.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	return &EncodedStrategy{
		cfg:    cfg,
		logger: logger.With("strategy", "encoded"),
		done:   make(chan struct{}),
	}
}

func (s *EncodedStrategy) Name() string { return "encoded" }

func (s *EncodedStrategy) DrainsOnStop() bool { return true }

func (s *EncodedStrategy) Done() <-chan struct{} { return s.done }

// Start configures the encoder and the container and returns the encoder
// input surface. On failure both are released.
func (s *EncodedStrategy) Start(ctx context.Context, spec core.RenderTargetSpec) (core.Surface, error) {
	if s.cfg.Encoder == nil || s.cfg.Writer == nil {
		return nil, fmt.Errorf("%w: encoder and writer are required", core.ErrInvalidConfig)
	}

	format := s.cfg.Format
	if format.MimeType == "" {
		format.MimeType = core.MimeTypeAVC
	}
	if format.Width == 0 {
		format.Width = spec.Width
	}
	if format.Height == 0 {
		format.Height = spec.Height
	}
	if format.FrameRate == 0 {
		format.FrameRate = spec.FrameRate
	}

	fail := func(err error) (core.Surface, error) {
		_ = s.cfg.Encoder.Release()
		if derr := s.cfg.Writer.Discard(); derr != nil {
			s.logger.Warn("Failed to remove output", "error", derr)
		}
		return nil, err
	}

	if err := s.cfg.Encoder.Configure(format); err != nil {
		return fail(fmt.Errorf("%w: %v", core.ErrEncoderInit, err))
	}
	surface := s.cfg.Encoder.InputSurface()
	if surface == nil {
		return fail(fmt.Errorf("%w: encoder has no input surface", core.ErrEncoderInit))
	}
	if _, err := s.cfg.Writer.AddTrack(format); err != nil {
		return fail(fmt.Errorf("failed to add track: %w", err))
	}
	if err := s.cfg.Writer.Start(); err != nil {
		return fail(fmt.Errorf("failed to start container: %w", err))
	}
	if err := s.cfg.Encoder.Start(s.onSample); err != nil {
		return fail(fmt.Errorf("%w: %v", core.ErrEncoderInit, err))
	}
	s.started.Store(true)

	s.logger.Info("Encoded strategy started",
		"width", format.Width, "height", format.Height,
		"fps", format.FrameRate, "bitrate", format.BitRate)
	return surface, nil
}

func (s *EncodedStrategy) onSample(sample core.EncodedSample) {
	if len(sample.Data) > 0 {
		if err := s.cfg.Writer.WriteSample(sample); err != nil {
			s.logger.Warn("Failed to write sample", "pts", sample.PTS, "error", err)
		} else {
			s.samples.Add(1)
			s.bytes.Add(uint64(len(sample.Data)))
		}
	}
	sample.Release()

	if sample.EndOfStream {
		s.logger.Debug("End of stream received", "samples", s.samples.Load())
		// Encoder teardown waits for this callback to return.
		go s.teardown(false)
	}
}

// teardown releases the encoder and finalizes the container exactly once.
// With discard set the container is removed instead of finalized.
func (s *EncodedStrategy) teardown(discard bool) {
	s.teardownOnce.Do(func() {
		if err := s.cfg.Encoder.Release(); err != nil {
			s.logger.Warn("Failed to release encoder", "error", err)
		}
		if discard {
			if err := s.cfg.Writer.Discard(); err != nil {
				s.logger.Warn("Failed to remove output", "error", err)
			}
		} else if err := s.cfg.Writer.Stop(); err != nil {
			if !errors.Is(err, core.ErrMuxerFinalize) {
				err = fmt.Errorf("%w: %v", core.ErrMuxerFinalize, err)
			}
			s.logger.Warn("Recording may be unplayable", "error", err)
			if s.cfg.OnWarning != nil {
				s.cfg.OnWarning(err)
			}
		}
		if err := s.cfg.Writer.Close(); err != nil {
			s.logger.Debug("Failed to close container", "error", err)
		}
		close(s.done)
		s.logger.Info("Encoded strategy stopped", "samples", s.samples.Load(), "bytes", s.bytes.Load(), "discarded", discard)
	})
}

// Discard tears the strategy down without draining and removes the
// container file.
func (s *EncodedStrategy) Discard() error {
	s.stopOnce.Do(func() { s.teardown(true) })
	<-s.done
	return nil
}

// Stop signals end of input and waits for the terminal sample. If ctx ends
// first the encoder is torn down without draining.
func (s *EncodedStrategy) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if !s.started.Load() {
			s.teardown(false)
			return
		}
		if serr := s.cfg.Encoder.SignalEndOfInputStream(); serr != nil {
			s.logger.Warn("Failed to signal end of stream", "error", serr)
			s.teardown(false)
			return
		}
		select {
		case <-s.done:
		case <-ctx.Done():
			err = fmt.Errorf("timed out waiting for end of stream: %w", ctx.Err())
			s.logger.Warn("Encoder did not drain, forcing teardown", "error", err)
			s.teardown(false)
		}
	})
	<-s.done
	return err
}

// Stats implements Strategy.
func (s *EncodedStrategy) Stats() Stats {
	return Stats{
		SamplesWritten: s.samples.Load(),
		BytesWritten:   s.bytes.Load(),
	}
}
