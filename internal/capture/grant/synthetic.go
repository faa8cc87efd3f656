package grant

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// SyntheticConfig describes a generated test-pattern display.
type SyntheticConfig struct {
	Width   int
	Height  int
	Density int
	// RowPadding is the number of extra bytes at the end of every row, as
	// produced by stride-aligned image readers.
	RowPadding int
	// Lifetime revokes the grant after the given duration when positive.
	Lifetime time.Duration
}

// Synthetic grants access to a moving test pattern.
type Synthetic struct {
	cfg    SyntheticConfig
	logger *slog.Logger
}

// NewSynthetic creates a synthetic requester. Zero dimensions select 720x1280.
func NewSynthetic(cfg SyntheticConfig, logger *slog.Logger) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 720
	}
	if cfg.Height <= 0 {
		cfg.Height = 1280
	}
	if cfg.Density <= 0 {
		cfg.Density = DefaultDensity
	}
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Synthetic{cfg: cfg, logger: logger}
}

// SyntheticGrant is a grant over a test pattern. Revoke simulates the user
// withdrawing consent.
type SyntheticGrant struct {
	*baseGrant
	frames atomic.Int64
}

// RequestCapture implements core.Requester.
func (s *Synthetic) RequestCapture(ctx context.Context, req core.GrantRequest) (core.Grant, error) {
	if req.ResultCode != core.ResultOK {
		return nil, fmt.Errorf("%w: result code %d", core.ErrGrantDenied, req.ResultCode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := &SyntheticGrant{}
	display := core.DisplayInfo{Width: s.cfg.Width, Height: s.cfg.Height, Density: s.cfg.Density}
	g.baseGrant = newBaseGrant("synthetic", display, func() (*core.RawFrame, error) {
		n := g.frames.Add(1)
		return PatternFrame(s.cfg.Width, s.cfg.Height, s.cfg.RowPadding, int(n)), nil
	}, s.logger)
	g.expireAfter(s.cfg.Lifetime)
	return g, nil
}

// PatternFrame renders test pattern frame n: diagonal gradient bands that
// move with n. Padding bytes are filled with 0xAB.
func PatternFrame(width, height, rowPadding, n int) *core.RawFrame {
	rowStride := width*4 + rowPadding
	data := make([]byte, rowStride*height)
	for y := 0; y < height; y++ {
		row := data[y*rowStride : (y+1)*rowStride]
		for x := 0; x < width; x++ {
			off := x * 4
			row[off] = byte(x + n)
			row[off+1] = byte(y + n)
			row[off+2] = byte((x + y + n*4) >> 1)
			row[off+3] = 0xFF
		}
		for i := width * 4; i < rowStride; i++ {
			row[i] = 0xAB
		}
	}
	return core.NewRawFrame(data, width, height, rowStride, 4, core.PixelFormatRGBA8888, nil)
}
