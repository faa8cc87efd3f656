// Package processor turns what a render target produces into output: either
// JPEG payloads for the network transport or encoded samples for a
// container file.
package processor

import (
	"context"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

// Strategy is one way of consuming a render target. A session picks one
// strategy when it starts and keeps it until it stops.
type Strategy interface {
	// Name identifies the strategy in logs and status output.
	Name() string

	// Start prepares the strategy for a render target described by spec and
	// returns the surface the render target must draw into.
	Start(ctx context.Context, spec core.RenderTargetSpec) (core.Surface, error)

	// Stop ends the strategy. It blocks until no more output will be
	// produced or ctx is done. Safe to call more than once.
	Stop(ctx context.Context) error

	// Done is closed once the strategy has shut down, whether through Stop
	// or on its own.
	Done() <-chan struct{}

	// DrainsOnStop reports whether Stop flushes work that still needs the
	// render target alive. Such strategies are stopped before the render
	// target is released; the others after.
	DrainsOnStop() bool

	// Stats returns the strategy counters.
	Stats() Stats
}

// Discarder is implemented by strategies whose output is worthless when the
// session never became active. Discard tears the strategy down and removes
// what it wrote.
type Discarder interface {
	Discard() error
}

// Stats counts per-strategy work.
type Stats struct {
	FramesProcessed uint64 `json:"framesProcessed,omitempty"`
	FramesFailed    uint64 `json:"framesFailed,omitempty"`
	FramesDropped   uint64 `json:"framesDropped,omitempty"`
	PayloadsDropped uint64 `json:"payloadsDropped,omitempty"`
	SamplesWritten  uint64 `json:"samplesWritten,omitempty"`
	BytesWritten    uint64 `json:"bytesWritten,omitempty"`
}
