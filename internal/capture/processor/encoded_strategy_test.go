package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

// fakeEncoder turns every submitted frame into one sample and answers end
// of input with an end-of-stream sample, unless ignoreEOS is set.
type fakeEncoder struct {
	configureErr error
	ignoreEOS    bool

	mu       sync.Mutex
	format   core.TrackFormat
	onSample func(core.EncodedSample)
	pts      int64

	released    atomic.Int32
	samplesBack atomic.Int32
}

func (e *fakeEncoder) Configure(format core.TrackFormat) error {
	e.format = format
	return e.configureErr
}

func (e *fakeEncoder) InputSurface() core.Surface {
	return core.SurfaceFunc(func(frame *core.RawFrame) {
		defer frame.Release()
		e.emit(false)
	})
}

func (e *fakeEncoder) Start(onSample func(core.EncodedSample)) error {
	e.mu.Lock()
	e.onSample = onSample
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) emit(eos bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.onSample == nil {
		return
	}
	e.pts += 33333
	data := []byte{0, 0, 0, 1, 0x65, 0x88}
	if eos {
		data = nil
	}
	e.onSample(core.NewEncodedSample(data, e.pts, e.pts == 33333, eos, func() { e.samplesBack.Add(1) }))
}

func (e *fakeEncoder) SignalEndOfInputStream() error {
	if e.ignoreEOS {
		return nil
	}
	go e.emit(true)
	return nil
}

func (e *fakeEncoder) Release() error {
	e.released.Add(1)
	return nil
}

type fakeWriter struct {
	mu      sync.Mutex
	calls   []string
	samples []core.EncodedSample
	stopErr error
}

func (w *fakeWriter) record(call string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
}

func (w *fakeWriter) AddTrack(format core.TrackFormat) (int, error) {
	w.record("addTrack")
	return 0, nil
}

func (w *fakeWriter) Start() error {
	w.record("start")
	return nil
}

func (w *fakeWriter) WriteSample(sample core.EncodedSample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, sample)
	return nil
}

func (w *fakeWriter) Stop() error {
	w.record("stop")
	return w.stopErr
}

func (w *fakeWriter) Close() error {
	w.record("close")
	return nil
}

func (w *fakeWriter) Discard() error {
	w.record("discard")
	return nil
}

func (w *fakeWriter) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string{}, w.calls...)
}

func TestEncodedStrategyLifecycle(t *testing.T) {
	enc := &fakeEncoder{}
	w := &fakeWriter{}
	s := NewEncodedStrategy(EncodedConfig{
		Encoder: enc,
		Writer:  w,
		Format:  core.TrackFormat{FrameRate: 30, BitRate: 5 * 1024 * 1024, KeyFrameInterval: 1},
	})

	surface, err := s.Start(context.Background(), core.RenderTargetSpec{Width: 720, Height: 1280, FrameRate: 60})
	require.NoError(t, err)
	assert.Equal(t, 720, enc.format.Width)
	assert.Equal(t, 1280, enc.format.Height)
	assert.Equal(t, 30, enc.format.FrameRate)
	assert.Equal(t, core.MimeTypeAVC, enc.format.MimeType)

	for i := 0; i < 3; i++ {
		surface.Submit(core.NewRawFrame(make([]byte, 16), 2, 2, 8, 4, core.PixelFormatRGBA8888, nil))
	}

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []string{"addTrack", "start", "stop", "close"}, w.Calls())
	assert.Len(t, w.samples, 3, "empty end-of-stream sample is not written")
	assert.Equal(t, int32(4), enc.samplesBack.Load())
	assert.Equal(t, int32(1), enc.released.Load())
	assert.Equal(t, uint64(3), s.Stats().SamplesWritten)
	assert.True(t, s.DrainsOnStop())
}

func TestEncodedStrategyConfigureFailure(t *testing.T) {
	enc := &fakeEncoder{configureErr: errors.New("no codec")}
	w := &fakeWriter{}
	s := NewEncodedStrategy(EncodedConfig{Encoder: enc, Writer: w})

	_, err := s.Start(context.Background(), core.RenderTargetSpec{Width: 10, Height: 10})
	assert.ErrorIs(t, err, core.ErrEncoderInit)
	assert.Equal(t, int32(1), enc.released.Load())
	assert.Equal(t, []string{"discard"}, w.Calls())
}

func TestEncodedStrategyDiscard(t *testing.T) {
	enc := &fakeEncoder{}
	w := &fakeWriter{}
	s := NewEncodedStrategy(EncodedConfig{Encoder: enc, Writer: w})
	_, err := s.Start(context.Background(), core.RenderTargetSpec{Width: 10, Height: 10})
	require.NoError(t, err)

	require.NoError(t, s.Discard())
	require.NoError(t, s.Stop(context.Background()))

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after discard")
	}
	assert.Equal(t, int32(1), enc.released.Load())
	assert.Equal(t, []string{"addTrack", "start", "discard", "close"}, w.Calls())
}

func TestEncodedStrategyStopTimeout(t *testing.T) {
	enc := &fakeEncoder{ignoreEOS: true}
	w := &fakeWriter{}
	s := NewEncodedStrategy(EncodedConfig{Encoder: enc, Writer: w})
	_, err := s.Start(context.Background(), core.RenderTargetSpec{Width: 10, Height: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after forced teardown")
	}
	assert.Equal(t, int32(1), enc.released.Load())
	assert.Equal(t, []string{"addTrack", "start", "stop", "close"}, w.Calls())
}

func TestEncodedStrategySpontaneousEndOfStream(t *testing.T) {
	enc := &fakeEncoder{}
	s := NewEncodedStrategy(EncodedConfig{Encoder: enc, Writer: &fakeWriter{}})
	_, err := s.Start(context.Background(), core.RenderTargetSpec{Width: 10, Height: 10})
	require.NoError(t, err)

	enc.emit(true)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done not closed after end of stream")
	}
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), enc.released.Load())
}

func TestEncodedStrategyFinalizeWarning(t *testing.T) {
	var warned atomic.Value
	s := NewEncodedStrategy(EncodedConfig{
		Encoder:   &fakeEncoder{},
		Writer:    &fakeWriter{stopErr: errors.New("disk full")},
		OnWarning: func(err error) { warned.Store(err) },
	})
	_, err := s.Start(context.Background(), core.RenderTargetSpec{Width: 10, Height: 10})
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	werr, ok := warned.Load().(error)
	require.True(t, ok)
	assert.ErrorIs(t, werr, core.ErrMuxerFinalize)
}
