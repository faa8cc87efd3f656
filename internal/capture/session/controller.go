// Package session drives one capture session at a time: it obtains a grant,
// wires a processing strategy to a render target and tears everything down
// again when asked to, when the grant is revoked or when the strategy ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/container"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/encoder"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/processor"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/transport"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateRequesting, StateActive, StateStopping} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Mode selects the processing strategy of a session.
type Mode string

const (
	// ModeMonitor sends JPEG frames to a remote endpoint.
	ModeMonitor Mode = "monitor"
	// ModeRecord encodes H.264 into a container file.
	ModeRecord Mode = "record"
)

const (
	DefaultStopTimeout = 5 * time.Second

	monitorFrameRate = 10
	renderTargetName = "ScreenCapture"
)

// ErrStartAborted is returned by Start when Stop was called while the grant
// was still being requested.
var ErrStartAborted = errors.New("session: start aborted")

// StartRequest describes a session to start.
type StartRequest struct {
	Grant core.GrantRequest
	Mode  Mode

	// Monitor mode.
	Transport   core.TransportConfig
	SnapshotDir string

	// Record mode.
	Output string
	Preset encoder.Preset

	// FrameRate overrides the render target rate. Defaults to the preset
	// rate when recording and 10 fps when monitoring.
	FrameRate int
}

func (r StartRequest) validate() error {
	switch r.Mode {
	case ModeMonitor:
		return r.Transport.Validate()
	case ModeRecord:
		if r.Output == "" {
			return fmt.Errorf("%w: output path is required", core.ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", core.ErrInvalidConfig, r.Mode)
	}
}

// StrategyFactory builds the strategy for a session.
type StrategyFactory func(req StartRequest, display core.DisplayInfo) (processor.Strategy, error)

// EncoderFactory builds a fresh encoder for a recording session.
type EncoderFactory func() core.Encoder

// Options configures a Controller.
type Options struct {
	Requester core.Requester
	// Transport carries monitor payloads. Required for ModeMonitor unless
	// NewStrategy is set.
	Transport *transport.Transport
	// NewEncoder is used by the default strategy factory for ModeRecord.
	NewEncoder EncoderFactory
	// NewStrategy replaces the default strategy factory.
	NewStrategy StrategyFactory

	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Stats is a snapshot of session counters.
type Stats struct {
	Strategy  processor.Stats  `json:"strategy"`
	Transport *transport.Stats `json:"transport,omitempty"`
}

// Status describes the controller and its current session, if any.
type Status struct {
	State     State                 `json:"state"`
	SessionID string                `json:"sessionId,omitempty"`
	Mode      Mode                  `json:"mode,omitempty"`
	StartedAt *time.Time            `json:"startedAt,omitempty"`
	Config    *core.TransportConfig `json:"config,omitempty"`
	Output    string                `json:"output,omitempty"`
	Display   *core.DisplayInfo     `json:"display,omitempty"`
	Stats     *Stats                `json:"stats,omitempty"`
}

type session struct {
	id        string
	req       StartRequest
	startedAt time.Time
	logger    *slog.Logger

	grant      core.Grant
	display    core.DisplayInfo
	unregister func()
	strategy   processor.Strategy
	target     core.RenderTarget

	// Set while Requesting; Start unwinds instead of going Active.
	abortErr error

	stopped chan struct{}
	stopErr error
}

// Controller owns at most one capture session.
type Controller struct {
	opts   Options
	logger *slog.Logger
	events *EventBus

	mu    sync.Mutex
	state State
	sess  *session
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	c := &Controller{
		opts:   opts,
		logger: logger.With("component", "session"),
		state:  StateIdle,
	}
	c.events = NewEventBus(c.logger)
	if c.opts.NewStrategy == nil {
		c.opts.NewStrategy = c.defaultStrategy
	}
	return c
}

// Events returns the lifecycle event bus.
func (c *Controller) Events() *EventBus {
	return c.events
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires a grant and begins capturing. It fails with core.ErrBusy
// unless the controller is idle. Anything acquired before a failure is
// released again in reverse order.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return &core.StateError{Op: "start", State: state.String(), Err: core.ErrBusy}
	}
	sess := &session{
		id:      uuid.New().String(),
		req:     req,
		stopped: make(chan struct{}),
	}
	sess.logger = c.logger.With("session", sess.id, "mode", req.Mode)
	c.state = StateRequesting
	c.sess = sess
	c.mu.Unlock()
	c.publishState(sess, StateRequesting)

	var cleanups []func()
	fail := func(err error) error {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		c.mu.Lock()
		c.state = StateIdle
		c.sess = nil
		c.mu.Unlock()
		close(sess.stopped)

		sess.logger.Error("Failed to start capture", "error", err)
		c.events.Publish(Event{Type: EventError, SessionID: sess.id, State: StateIdle, Message: err.Error()})
		c.publishState(sess, StateIdle)
		return err
	}

	grant, err := c.opts.Requester.RequestCapture(ctx, req.Grant)
	if err != nil {
		return fail(err)
	}
	sess.grant = grant
	sess.display = grant.Display()
	cleanups = append(cleanups, func() {
		if err := grant.Release(); err != nil {
			sess.logger.Warn("Failed to release grant", "error", err)
		}
	})

	sess.unregister = grant.OnRevoked(func() { c.onRevoked(sess) })
	cleanups = append(cleanups, sess.unregister)

	if req.Mode == ModeMonitor && c.opts.Transport != nil {
		if err := c.opts.Transport.Configure(req.Transport); err != nil {
			return fail(err)
		}
	}

	strategy, err := c.opts.NewStrategy(req, sess.display)
	if err != nil {
		return fail(err)
	}
	sess.strategy = strategy

	spec := c.renderTargetSpec(req, sess.display)
	surface, err := strategy.Start(ctx, spec)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, func() {
		if d, ok := strategy.(processor.Discarder); ok {
			if err := d.Discard(); err != nil {
				sess.logger.Warn("Failed to discard strategy output", "error", err)
			}
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		defer cancel()
		if err := strategy.Stop(stopCtx); err != nil {
			sess.logger.Warn("Failed to stop strategy", "error", err)
		}
	})

	target, err := grant.CreateRenderTarget(spec, surface)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, func() {
		if err := target.Release(); err != nil {
			sess.logger.Warn("Failed to release render target", "error", err)
		}
	})

	c.mu.Lock()
	if sess.abortErr != nil {
		err := sess.abortErr
		c.mu.Unlock()
		return fail(err)
	}
	sess.target = target
	sess.startedAt = time.Now()
	c.state = StateActive
	c.mu.Unlock()

	sess.logger.Info("Capture started",
		"strategy", strategy.Name(),
		"width", spec.Width,
		"height", spec.Height,
		"fps", spec.FrameRate)
	c.publishState(sess, StateActive)

	go c.watchStrategy(sess)
	return nil
}

func (c *Controller) renderTargetSpec(req StartRequest, display core.DisplayInfo) core.RenderTargetSpec {
	fps := req.FrameRate
	if fps <= 0 {
		if req.Mode == ModeRecord {
			fps = c.preset(req).FrameRate
		} else {
			fps = monitorFrameRate
		}
	}
	return core.RenderTargetSpec{
		Name:      renderTargetName,
		Width:     display.Width,
		Height:    display.Height,
		Density:   display.Density,
		FrameRate: fps,
		Flags:     core.FlagAutoMirror,
	}
}

func (c *Controller) preset(req StartRequest) encoder.Preset {
	if req.Preset.FrameRate == 0 {
		return encoder.PresetRecord
	}
	return req.Preset
}

func (c *Controller) defaultStrategy(req StartRequest, display core.DisplayInfo) (processor.Strategy, error) {
	switch req.Mode {
	case ModeMonitor:
		if c.opts.Transport == nil {
			return nil, fmt.Errorf("%w: no transport configured", core.ErrInvalidConfig)
		}
		cfg := processor.RawConfig{
			Sender:  c.opts.Transport,
			Quality: c.opts.Transport.Quality(),
			Logger:  c.logger,
		}
		if req.SnapshotDir != "" {
			cfg.Snapshots = processor.NewSnapshotDir(req.SnapshotDir)
		}
		return processor.NewRawStrategy(cfg), nil

	case ModeRecord:
		if c.opts.NewEncoder == nil {
			return nil, fmt.Errorf("%w: no encoder available", core.ErrEncoderInit)
		}
		enc := c.opts.NewEncoder()
		writer, err := container.NewWriter(req.Output, c.logger)
		if err != nil {
			_ = enc.Release()
			return nil, err
		}
		// The encoder clock follows the rate the render target produces at.
		format := c.preset(req).TrackFormat(display.Width, display.Height)
		format.FrameRate = c.renderTargetSpec(req, display).FrameRate
		return processor.NewEncodedStrategy(processor.EncodedConfig{
			Encoder: enc,
			Writer:  writer,
			Format:  format,
			Logger:  c.logger,
			OnWarning: func(err error) {
				c.logger.Warn("Recording warning", "output", req.Output, "error", err)
				c.events.Publish(Event{Type: EventWarning, State: c.State(), Message: err.Error()})
			},
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown mode %q", core.ErrInvalidConfig, req.Mode)
}

// Stop ends the current session. It is a no-op when idle. Concurrent
// callers wait for the one that performs the teardown.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	if sess != nil && c.state == StateRequesting {
		if sess.abortErr == nil {
			sess.abortErr = ErrStartAborted
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if sess == nil {
		c.logger.Debug("Stop called while idle, ignoring")
		return nil
	}
	return c.stop(ctx, sess, ReasonRequested)
}

func (c *Controller) onRevoked(sess *session) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	if c.state == StateRequesting {
		sess.abortErr = core.ErrGrantRevoked
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sess.logger.Warn("Capture grant revoked")
	if err := c.stop(context.Background(), sess, ReasonRevoked); err != nil {
		sess.logger.Warn("Teardown after revocation finished with errors", "error", err)
	}
}

func (c *Controller) watchStrategy(sess *session) {
	select {
	case <-sess.strategy.Done():
		if err := c.stop(context.Background(), sess, ReasonEndOfStream); err != nil {
			sess.logger.Warn("Teardown after end of stream finished with errors", "error", err)
		}
	case <-sess.stopped:
	}
}

func (c *Controller) stop(ctx context.Context, sess *session, reason string) error {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return nil
	}
	switch c.state {
	case StateStopping:
		c.mu.Unlock()
		select {
		case <-sess.stopped:
			return sess.stopErr
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateActive:
	default:
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	c.mu.Unlock()
	c.publishState(sess, StateStopping)
	sess.logger.Info("Stopping capture", "reason", reason)

	stopCtx, cancel := context.WithTimeout(ctx, c.opts.StopTimeout)
	defer cancel()

	var errs []error
	releaseTarget := func() {
		if err := sess.target.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release render target: %w", err))
		}
	}
	stopStrategy := func() {
		if err := sess.strategy.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s strategy: %w", sess.strategy.Name(), err))
		}
	}
	if sess.strategy.DrainsOnStop() {
		stopStrategy()
		releaseTarget()
	} else {
		releaseTarget()
		stopStrategy()
	}

	sess.unregister()
	if err := sess.grant.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release grant: %w", err))
	}

	stats := c.collectStats(sess)
	sess.stopErr = errors.Join(errs...)

	c.mu.Lock()
	c.state = StateIdle
	c.sess = nil
	c.mu.Unlock()
	close(sess.stopped)

	sess.logger.Info("Capture stopped",
		"reason", reason,
		"frames", stats.Strategy.FramesProcessed,
		"dropped", stats.Strategy.FramesDropped,
		"duration", time.Since(sess.startedAt).Round(time.Millisecond))
	ev := Event{Type: EventStopped, SessionID: sess.id, State: StateIdle, Reason: reason, Stats: &stats}
	if sess.stopErr != nil {
		ev.Message = sess.stopErr.Error()
	}
	c.events.Publish(ev)
	return sess.stopErr
}

func (c *Controller) collectStats(sess *session) Stats {
	st := Stats{Strategy: sess.strategy.Stats()}
	if sess.req.Mode == ModeMonitor && c.opts.Transport != nil {
		ts := c.opts.Transport.Stats()
		st.Transport = &ts
	}
	return st
}

func (c *Controller) publishState(sess *session, state State) {
	c.events.Publish(Event{Type: EventStateChanged, SessionID: sess.id, State: state})
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	sess := c.sess
	if sess == nil {
		return st
	}
	st.SessionID = sess.id
	st.Mode = sess.req.Mode
	switch sess.req.Mode {
	case ModeMonitor:
		cfg := sess.req.Transport.Normalized()
		st.Config = &cfg
	case ModeRecord:
		st.Output = sess.req.Output
	}
	if c.state == StateActive || c.state == StateStopping {
		started := sess.startedAt
		st.StartedAt = &started
		display := sess.display
		st.Display = &display
		stats := c.collectStats(sess)
		st.Stats = &stats
	}
	return st
}
