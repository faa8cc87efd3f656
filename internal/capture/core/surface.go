package core

import (
	"context"
)

// Activity result codes carried by a grant transfer.
const (
	ResultOK       = -1
	ResultCanceled = 0
)

// GrantRequest is the opaque result handed over by whatever obtained the
// user's consent to capture the screen.
type GrantRequest struct {
	ResultCode int
	Data       []byte
}

// DisplayInfo is the logical resolution and density of the captured display.
type DisplayInfo struct {
	Width   int
	Height  int
	Density int
}

// RenderTargetFlags mirror the virtual display creation flags.
type RenderTargetFlags uint32

const (
	FlagAutoMirror RenderTargetFlags = 1 << 4
)

// RenderTargetSpec configures an off-screen render target.
type RenderTargetSpec struct {
	Name      string
	Width     int
	Height    int
	Density   int
	FrameRate int
	Flags     RenderTargetFlags
}

// Surface receives frames rendered into a render target. Ownership of the
// frame passes to the surface, which must eventually Release it.
type Surface interface {
	Submit(frame *RawFrame)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(frame *RawFrame)

// Submit implements Surface.
func (f SurfaceFunc) Submit(frame *RawFrame) { f(frame) }

// RenderTarget is an off-screen display fed by a grant.
type RenderTarget interface {
	// Release stops frame production. When it returns the surface will not
	// be invoked again. Safe to call more than once.
	Release() error
}

// Grant is a revocable permission to read the screen.
type Grant interface {
	// Display returns the logical resolution of the captured screen.
	Display() DisplayInfo

	// CreateRenderTarget starts rendering the screen into surface.
	CreateRenderTarget(spec RenderTargetSpec, surface Surface) (RenderTarget, error)

	// OnRevoked registers fn to be called, on an arbitrary goroutine, when
	// the grant is revoked. The returned function unregisters it.
	OnRevoked(fn func()) (unregister func())

	// Release gives the grant back. Safe to call more than once.
	Release() error
}

// Requester turns a grant transfer into a Grant.
type Requester interface {
	RequestCapture(ctx context.Context, req GrantRequest) (Grant, error)
}

// Encoder is a video encoder fed through an input surface that emits
// encoded samples asynchronously.
type Encoder interface {
	// Configure prepares the encoder for format.
	Configure(format TrackFormat) error

	// InputSurface returns the surface frames must be rendered into.
	// Valid after Configure.
	InputSurface() Surface

	// Start begins encoding. onSample is called for every output sample
	// from a single goroutine; the last call carries EndOfStream.
	Start(onSample func(EncodedSample)) error

	// SignalEndOfInputStream asks the encoder to drain and emit EndOfStream.
	SignalEndOfInputStream() error

	// Release tears the encoder down. Safe to call more than once.
	Release() error
}
