package encoder

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

func TestPresetByName(t *testing.T) {
	p, err := PresetByName("")
	require.NoError(t, err)
	assert.Equal(t, PresetRecord, p)

	p, err = PresetByName(" LIVE ")
	require.NoError(t, err)
	assert.Equal(t, 10, p.FrameRate)
	assert.Equal(t, 512*1024, p.BitRate)

	_, err = PresetByName("4k")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestPresetTrackFormat(t *testing.T) {
	f := PresetRecord.TrackFormat(1080, 2400)
	assert.Equal(t, core.MimeTypeAVC, f.MimeType)
	assert.Equal(t, 1080, f.Width)
	assert.Equal(t, 2400, f.Height)
	assert.Equal(t, 30, f.FrameRate)
	assert.Equal(t, 5*1024*1024, f.BitRate)
	assert.Equal(t, 1, f.KeyFrameInterval)
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(PresetLive.TrackFormat(640, 480))
	assert.Contains(t, args, "640x480")
	assert.Contains(t, args, "libx264")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	for i, a := range args {
		if a == "-g" {
			assert.Equal(t, "10", args[i+1])
		}
	}
}

func TestPackRGBA(t *testing.T) {
	// 2x2 frame with 8 bytes of padding per row.
	data := []byte{
		1, 1, 1, 1, 2, 2, 2, 2, 9, 9, 9, 9, 9, 9, 9, 9,
		3, 3, 3, 3, 4, 4, 4, 4, 9, 9, 9, 9, 9, 9, 9, 9,
	}
	frame := core.NewRawFrame(data, 2, 2, 16, 4, core.PixelFormatRGBA8888, nil)
	dst := make([]byte, 16)
	require.NoError(t, packRGBA(dst, frame, 2, 2))
	assert.Equal(t, []byte{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}, dst)

	err := packRGBA(dst, frame, 4, 2)
	assert.ErrorIs(t, err, core.ErrInvalidFrame)

	short := core.NewRawFrame(data[:20], 2, 2, 16, 4, core.PixelFormatRGBA8888, nil)
	err = packRGBA(dst, short, 2, 2)
	assert.ErrorIs(t, err, core.ErrInvalidFrame)

	unknown := core.NewRawFrame(data, 2, 2, 16, 4, core.PixelFormatUnknown, nil)
	err = packRGBA(dst, unknown, 2, 2)
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
}

// startFeed runs the input loop of an encoder whose stdin is a pipe, for
// 2x2 frames at fps.
func startFeed(t *testing.T, fps int) (*FFmpegEncoder, *io.PipeReader) {
	t.Helper()
	pr, pw := io.Pipe()
	e := NewFFmpegEncoder("", nil)
	e.format = core.TrackFormat{Width: 2, Height: 2, FrameRate: fps}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.stdin = pw
	e.frames = make(chan *core.RawFrame, inputQueueSize)
	e.eos = make(chan struct{})
	e.feedDone = make(chan struct{})
	go e.feedInputLoop()
	t.Cleanup(func() {
		e.cancel()
		pr.Close()
		<-e.feedDone
	})
	return e, pr
}

func solidFrame(v byte, released *atomic.Int32) *core.RawFrame {
	return core.NewRawFrame(bytes.Repeat([]byte{v}, 16), 2, 2, 8, 4, core.PixelFormatRGBA8888, func() {
		released.Add(1)
	})
}

func readFrame(t *testing.T, r io.Reader) []byte {
	t.Helper()
	buf := make([]byte, 16)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return buf
}

func TestFeedRepeatsLatestFrameEachTick(t *testing.T) {
	var released atomic.Int32
	e, pr := startFeed(t, 100)

	e.frames <- solidFrame(7, &released)
	for i := 0; i < 3; i++ {
		assert.Equal(t, bytes.Repeat([]byte{7}, 16), readFrame(t, pr))
	}
	assert.Equal(t, int32(1), released.Load())
	assert.GreaterOrEqual(t, e.repeated.Load(), uint64(2))
}

func TestFeedKeepsNewestFrameBetweenTicks(t *testing.T) {
	var released atomic.Int32
	e, pr := startFeed(t, 5)

	e.frames <- solidFrame(1, &released)
	e.frames <- solidFrame(2, &released)

	assert.Equal(t, bytes.Repeat([]byte{2}, 16), readFrame(t, pr))
	assert.Equal(t, int32(2), released.Load())
	assert.Equal(t, uint64(1), e.dropped.Load())
}

func TestFeedWritesPendingFrameAtEndOfInput(t *testing.T) {
	var released atomic.Int32
	e, pr := startFeed(t, 1)

	e.frames <- solidFrame(3, &released)
	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	close(e.eos)

	rest, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{3}, 16), rest)
	<-e.feedDone
}

func TestConfigureMissingBinary(t *testing.T) {
	e := NewFFmpegEncoder("ffmpeg-that-does-not-exist", nil)
	err := e.Configure(PresetRecord.TrackFormat(64, 64))
	assert.ErrorIs(t, err, core.ErrEncoderInit)
	assert.NoError(t, e.Release())
	assert.Error(t, e.SignalEndOfInputStream())
}

func TestConfigureRejectsInvalidFormat(t *testing.T) {
	e := NewFFmpegEncoder("", nil)
	err := e.Configure(core.TrackFormat{Width: 0, Height: 64, FrameRate: 30, BitRate: 1000})
	assert.ErrorIs(t, err, core.ErrEncoderInit)
}

func TestFFmpegEncoderRoundTrip(t *testing.T) {
	if _, err := exec.LookPath(DefaultBinary); err != nil {
		t.Skip("ffmpeg not available, skipping encoder test")
	}

	e := NewFFmpegEncoder("", nil)
	require.NoError(t, e.Configure(PresetRecord.TrackFormat(64, 48)))

	var mu sync.Mutex
	var samples []core.EncodedSample
	eos := make(chan struct{})
	require.NoError(t, e.Start(func(s core.EncodedSample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
		if s.EndOfStream {
			close(eos)
		}
	}))

	surface := e.InputSurface()
	for i := 0; i < 15; i++ {
		data := make([]byte, 64*48*4)
		for j := range data {
			data[j] = byte(i*16 + j)
		}
		surface.Submit(core.NewRawFrame(data, 64, 48, 64*4, 4, core.PixelFormatRGBA8888, nil))
		time.Sleep(35 * time.Millisecond)
	}
	require.NoError(t, e.SignalEndOfInputStream())

	select {
	case <-eos:
	case <-time.After(20 * time.Second):
		t.Fatal("no end of stream from ffmpeg")
	}
	require.NoError(t, e.Release())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(samples), 2)
	assert.True(t, samples[0].IsKeyFrame, "first access unit must be a key frame")
	assert.True(t, samples[len(samples)-1].EndOfStream)
	for i := 1; i < len(samples); i++ {
		assert.Greater(t, samples[i].PTS, samples[i-1].PTS)
	}
}
