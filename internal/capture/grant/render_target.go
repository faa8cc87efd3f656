package grant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

const (
	defaultFrameRate   = 30
	maxCaptureFailures = 10
)

// renderTarget polls a capture function at the target frame rate and
// submits every frame to its surface from a single goroutine.
type renderTarget struct {
	spec    core.RenderTargetSpec
	surface core.Surface
	capture captureFunc
	logger  *slog.Logger
	lost    func()

	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
	onRelease func()
}

func startRenderTarget(spec core.RenderTargetSpec, surface core.Surface, capture captureFunc, logger *slog.Logger, lost func()) *renderTarget {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &renderTarget{
		spec:    spec,
		surface: surface,
		capture: capture,
		logger:  logger,
		lost:    lost,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go rt.run(ctx)
	return rt
}

func (rt *renderTarget) run(ctx context.Context) {
	defer close(rt.done)

	fps := rt.spec.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := rt.capture()
		if err != nil {
			failures++
			rt.logger.Warn("Capture failed", "error", err, "failures", failures)
			if failures == maxCaptureFailures {
				rt.lost()
			}
			continue
		}
		failures = 0
		if ctx.Err() != nil {
			frame.Release()
			return
		}
		rt.surface.Submit(frame)
	}
}

// Release stops the producer. When it returns the surface is no longer
// invoked.
func (rt *renderTarget) Release() error {
	rt.once.Do(func() {
		rt.cancel()
		<-rt.done
		if rt.onRelease != nil {
			rt.onRelease()
		}
		rt.logger.Debug("Render target released", "name", rt.spec.Name)
	})
	return nil
}
