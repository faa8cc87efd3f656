// Package grant provides capture grants backed by a synthetic test pattern,
// the local desktop, or an Android device reached through adb.
package grant

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

// DefaultDensity is reported when a source has no density of its own.
const DefaultDensity = 160

// captureFunc grabs the current screen contents.
type captureFunc func() (*core.RawFrame, error)

// baseGrant implements the revocation and render target bookkeeping shared
// by every source.
type baseGrant struct {
	name    string
	display core.DisplayInfo
	capture captureFunc
	logger  *slog.Logger

	mu        sync.Mutex
	nextID    int
	callbacks map[int]func()
	targets   map[*renderTarget]struct{}
	revoked   bool
	released  bool
	lifetime  *time.Timer
	cleanup   []func()
}

func newBaseGrant(name string, display core.DisplayInfo, capture captureFunc, logger *slog.Logger) *baseGrant {
	return &baseGrant{
		name:      name,
		display:   display,
		capture:   capture,
		logger:    logger.With("grant", name),
		callbacks: make(map[int]func()),
		targets:   make(map[*renderTarget]struct{}),
	}
}

// expireAfter revokes the grant once d has passed.
func (g *baseGrant) expireAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lifetime = time.AfterFunc(d, func() {
		g.logger.Info("Grant expired", "lifetime", d)
		g.Revoke()
	})
}

// onCleanup registers fn to run on Release.
func (g *baseGrant) onCleanup(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanup = append(g.cleanup, fn)
}

func (g *baseGrant) Display() core.DisplayInfo {
	return g.display
}

func (g *baseGrant) OnRevoked(fn func()) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.callbacks[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.callbacks, id)
	}
}

// Revoke invalidates the grant and runs the revocation callbacks on the
// calling goroutine. Later calls do nothing.
func (g *baseGrant) Revoke() {
	g.mu.Lock()
	if g.revoked || g.released {
		g.mu.Unlock()
		return
	}
	g.revoked = true
	callbacks := make([]func(), 0, len(g.callbacks))
	for _, fn := range g.callbacks {
		callbacks = append(callbacks, fn)
	}
	g.mu.Unlock()

	g.logger.Info("Grant revoked", "listeners", len(callbacks))
	for _, fn := range callbacks {
		fn()
	}
}

// Revoked reports whether the grant has been revoked.
func (g *baseGrant) Revoked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revoked
}

func (g *baseGrant) CreateRenderTarget(spec core.RenderTargetSpec, surface core.Surface) (core.RenderTarget, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.revoked || g.released {
		return nil, fmt.Errorf("%w: cannot create render target %q", core.ErrGrantRevoked, spec.Name)
	}
	if surface == nil {
		return nil, fmt.Errorf("%w: render target needs a surface", core.ErrInvalidConfig)
	}

	rt := startRenderTarget(spec, surface, g.capture, g.logger, func() {
		// Capture keeps failing: the source is gone.
		go g.Revoke()
	})
	rt.onRelease = func() {
		g.mu.Lock()
		delete(g.targets, rt)
		g.mu.Unlock()
	}
	g.targets[rt] = struct{}{}
	g.logger.Debug("Render target created", "name", spec.Name, "width", spec.Width, "height", spec.Height, "fps", spec.FrameRate)
	return rt, nil
}

// Release stops every render target still alive and frees the source.
func (g *baseGrant) Release() error {
	g.mu.Lock()
	if g.released {
		g.mu.Unlock()
		return nil
	}
	g.released = true
	if g.lifetime != nil {
		g.lifetime.Stop()
	}
	targets := make([]*renderTarget, 0, len(g.targets))
	for rt := range g.targets {
		targets = append(targets, rt)
	}
	cleanup := g.cleanup
	g.cleanup = nil
	g.mu.Unlock()

	for _, rt := range targets {
		_ = rt.Release()
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	g.logger.Debug("Grant released")
	return nil
}
