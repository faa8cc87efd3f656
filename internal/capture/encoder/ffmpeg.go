package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/h264"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/procgroup"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

const (
	// DefaultBinary is looked up in PATH when no ffmpeg path is configured.
	DefaultBinary = "ffmpeg"

	inputQueueSize = 2
	readBufferSize = 64 * 1024
	releaseTimeout = 5 * time.Second
)

var errNotRunning = errors.New("encoder is not running")

// FFmpegEncoder encodes raw RGBA frames to H.264 with an ffmpeg subprocess.
// Frames go in through stdin, an Annex-B elementary stream comes out of
// stdout and is split into access units.
type FFmpegEncoder struct {
	binary string
	logger *slog.Logger

	mu       sync.Mutex
	format   core.TrackFormat
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   *tailBuffer
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	released atomic.Bool

	frames   chan *core.RawFrame
	eos      chan struct{}
	eosOnce  sync.Once
	feedDone chan struct{}
	readDone chan struct{}

	releaseOnce sync.Once
	dropped     atomic.Uint64
	repeated    atomic.Uint64
}

// NewFFmpegEncoder creates an encoder running binary, DefaultBinary when
// empty.
func NewFFmpegEncoder(binary string, logger *slog.Logger) *FFmpegEncoder {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = util.GetLogger()
	}
	return &FFmpegEncoder{
		binary: binary,
		logger: logger.With("component", "ffmpeg"),
	}
}

func buildArgs(format core.TrackFormat) []string {
	gop := format.FrameRate * format.KeyFrameInterval
	if gop <= 0 {
		gop = format.FrameRate
	}
	bitrate := strconv.Itoa(format.BitRate)
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo", // Input: packed RGBA frames
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", format.Width, format.Height),
		"-r", strconv.Itoa(format.FrameRate),
		"-i", "pipe:0",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2", // x264 needs even dimensions
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", strconv.Itoa(format.BitRate * 2),
		"-g", strconv.Itoa(gop),
		"-bf", "0",
		"-f", "h264", // Output: Annex-B elementary stream
		"pipe:1",
	}
}

// Configure prepares the ffmpeg command for format.
func (e *FFmpegEncoder) Configure(format core.TrackFormat) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return fmt.Errorf("%w: encoder already configured", core.ErrEncoderInit)
	}
	if format.Width <= 0 || format.Height <= 0 || format.FrameRate <= 0 || format.BitRate <= 0 {
		return fmt.Errorf("%w: invalid format %dx%d@%d %dbps", core.ErrEncoderInit,
			format.Width, format.Height, format.FrameRate, format.BitRate)
	}
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrEncoderInit, err)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	cmd := exec.CommandContext(e.ctx, path, buildArgs(format)...)
	// Ctrl+C must not kill ffmpeg before it is drained.
	procgroup.Detach(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.cancel()
		return fmt.Errorf("%w: %v", core.ErrEncoderInit, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		e.cancel()
		return fmt.Errorf("%w: %v", core.ErrEncoderInit, err)
	}
	e.stderr = &tailBuffer{limit: 4096}
	cmd.Stderr = e.stderr

	e.format = format
	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.frames = make(chan *core.RawFrame, inputQueueSize)
	e.eos = make(chan struct{})
	e.feedDone = make(chan struct{})
	e.readDone = make(chan struct{})
	return nil
}

// InputSurface implements core.Encoder.
func (e *FFmpegEncoder) InputSurface() core.Surface {
	return core.SurfaceFunc(e.submit)
}

// submit queues a frame, evicting the oldest queued frame when full.
func (e *FFmpegEncoder) submit(frame *core.RawFrame) {
	e.mu.Lock()
	running := e.running
	frames := e.frames
	e.mu.Unlock()

	if !running || e.released.Load() || e.eosSignaled() {
		frame.Release()
		return
	}
	for {
		select {
		case frames <- frame:
			return
		default:
		}
		select {
		case old := <-frames:
			e.dropped.Add(1)
			old.Release()
		default:
		}
	}
}

func (e *FFmpegEncoder) eosSignaled() bool {
	select {
	case <-e.eos:
		return true
	default:
		return false
	}
}

// Start launches ffmpeg and the feed and read loops.
func (e *FFmpegEncoder) Start(onSample func(core.EncodedSample)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return fmt.Errorf("%w: encoder not configured", core.ErrEncoderInit)
	}
	if e.running {
		return nil
	}
	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrEncoderInit, err)
	}
	e.running = true
	e.logger.Info("FFmpeg encoder started", "pid", e.cmd.Process.Pid,
		"width", e.format.Width, "height", e.format.Height, "fps", e.format.FrameRate)

	go e.feedInputLoop()
	go e.readOutputLoop(onSample)
	return nil
}

// feedInputLoop writes one frame to ffmpeg stdin per tick of the configured
// frame rate. The latest frame is repeated while capture lags and frames
// that arrive between ticks replace each other, so the frame-index
// timestamps of the output follow wall time.
func (e *FFmpegEncoder) feedInputLoop() {
	defer close(e.feedDone)
	defer e.stdin.Close()

	width, height := e.format.Width, e.format.Height
	packed := make([]byte, width*height*4)
	var have, fresh bool
	take := func(frame *core.RawFrame) {
		err := packRGBA(packed, frame, width, height)
		frame.Release()
		if err != nil {
			e.logger.Warn("Dropping frame", "error", err)
			return
		}
		if fresh {
			e.dropped.Add(1)
		}
		have, fresh = true, true
	}
	write := func() bool {
		if !fresh {
			e.repeated.Add(1)
		}
		fresh = false
		if _, err := e.stdin.Write(packed); err != nil {
			e.logger.Error("Failed to write to FFmpeg stdin", "error", err)
			return false
		}
		return true
	}

	ticker := time.NewTicker(time.Second / time.Duration(e.format.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case frame := <-e.frames:
			take(frame)
		case <-ticker.C:
			if have && !write() {
				return
			}
		case <-e.eos:
			// The last frame still goes out once, then stdin closes.
			for drained := false; !drained; {
				select {
				case frame := <-e.frames:
					take(frame)
				default:
					drained = true
				}
			}
			if fresh {
				write()
			}
			e.logger.Debug("End of input, closing ffmpeg stdin")
			return
		}
	}
}

// readOutputLoop splits stdout into access units and delivers them, ending
// with an end-of-stream sample.
func (e *FFmpegEncoder) readOutputLoop(onSample func(core.EncodedSample)) {
	defer close(e.readDone)

	splitter := h264.NewAccessUnitSplitter()
	var n int64
	emit := func(au []byte) {
		pts := n * 1_000_000 / int64(e.format.FrameRate)
		n++
		onSample(core.NewEncodedSample(au, pts, h264.IsKeyFrame(au), false, nil))
	}

	buf := make([]byte, readBufferSize)
	for {
		r, err := e.stdout.Read(buf)
		if r > 0 {
			for _, au := range splitter.Push(buf[:r]) {
				emit(au)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !e.released.Load() {
				e.logger.Warn("FFmpeg stdout read failed", "error", err)
			}
			break
		}
	}
	for _, au := range splitter.Flush() {
		emit(au)
	}

	if err := e.cmd.Wait(); err != nil && !e.released.Load() {
		e.logger.Error("FFmpeg exited with error", "error", err, "stderr", e.stderr.String())
	}
	if e.released.Load() {
		return
	}
	e.logger.Info("FFmpeg encoder drained", "samples", n,
		"droppedFrames", e.dropped.Load(), "repeatedFrames", e.repeated.Load())
	pts := n * 1_000_000 / int64(e.format.FrameRate)
	onSample(core.NewEncodedSample(nil, pts, false, true, nil))
}

// SignalEndOfInputStream closes ffmpeg stdin once queued frames are written;
// the read loop emits the end-of-stream sample after the last access unit.
func (e *FFmpegEncoder) SignalEndOfInputStream() error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running || e.released.Load() {
		return errNotRunning
	}
	e.eosOnce.Do(func() { close(e.eos) })
	return nil
}

// Release kills ffmpeg if it is still running and waits for the loops. It
// must not be called from the sample callback.
func (e *FFmpegEncoder) Release() error {
	e.releaseOnce.Do(func() {
		e.released.Store(true)

		e.mu.Lock()
		running := e.running
		e.running = false
		cancel := e.cancel
		e.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		if !running {
			_ = e.stdin.Close()
			_ = e.stdout.Close()
			return
		}

		timer := time.NewTimer(releaseTimeout)
		defer timer.Stop()
		for _, ch := range []chan struct{}{e.feedDone, e.readDone} {
			select {
			case <-ch:
			case <-timer.C:
				e.logger.Warn("FFmpeg encoder did not stop in time")
				return
			}
		}
	drain:
		for {
			select {
			case f := <-e.frames:
				f.Release()
			default:
				break drain
			}
		}
		e.logger.Debug("FFmpeg encoder released")
	})
	return nil
}

// packRGBA copies the top-left width x height pixels of frame into dst,
// dropping row padding.
func packRGBA(dst []byte, frame *core.RawFrame, width, height int) error {
	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 || frame.PixelStride != bpp {
		return fmt.Errorf("%w: unsupported pixel layout %s with stride %d", core.ErrInvalidFrame,
			frame.Format, frame.PixelStride)
	}
	row := width * bpp
	if frame.Width < width || frame.Height < height || frame.RowStride < row {
		return fmt.Errorf("%w: frame %dx%d smaller than %dx%d", core.ErrInvalidFrame,
			frame.Width, frame.Height, width, height)
	}
	if need := (height-1)*frame.RowStride + row; len(frame.Data) < need {
		return fmt.Errorf("%w: buffer holds %d of %d bytes", core.ErrInvalidFrame, len(frame.Data), need)
	}
	for y := 0; y < height; y++ {
		copy(dst[y*row:(y+1)*row], frame.Data[y*frame.RowStride:])
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
