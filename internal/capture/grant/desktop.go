package grant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kbinani/screenshot"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// Desktop grants access to one of the local displays.
type Desktop struct {
	display int
	logger  *slog.Logger
}

// NewDesktop creates a requester for display index display.
func NewDesktop(display int, logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Desktop{display: display, logger: logger}
}

// RequestCapture implements core.Requester.
func (d *Desktop) RequestCapture(ctx context.Context, req core.GrantRequest) (core.Grant, error) {
	if req.ResultCode != core.ResultOK {
		return nil, fmt.Errorf("%w: result code %d", core.ErrGrantDenied, req.ResultCode)
	}
	n := screenshot.NumActiveDisplays()
	if d.display < 0 || d.display >= n {
		return nil, fmt.Errorf("%w: display %d not available (%d active)", core.ErrGrantDenied, d.display, n)
	}

	bounds := screenshot.GetDisplayBounds(d.display)
	display := core.DisplayInfo{Width: bounds.Dx(), Height: bounds.Dy(), Density: DefaultDensity}
	d.logger.Info("Desktop display selected", "display", d.display, "bounds", bounds.String())

	g := newBaseGrant(fmt.Sprintf("desktop-%d", d.display), display, func() (*core.RawFrame, error) {
		img, err := screenshot.CaptureRect(bounds)
		if err != nil {
			return nil, fmt.Errorf("failed to capture display: %w", err)
		}
		return core.NewRawFrame(img.Pix, img.Rect.Dx(), img.Rect.Dy(), img.Stride, 4, core.PixelFormatRGBA8888, nil), nil
	}, d.logger)
	return g, nil
}
