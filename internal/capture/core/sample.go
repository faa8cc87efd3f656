package core

import "sync"

// PixelFormat describes the byte layout of a raw frame.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGBA8888
	PixelFormatRGBX8888
)

// BytesPerPixel returns the pixel stride a tightly packed buffer of this format has.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA8888, PixelFormatRGBX8888:
		return 4
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGBA8888:
		return "RGBA_8888"
	case PixelFormatRGBX8888:
		return "RGBX_8888"
	default:
		return "UNKNOWN"
	}
}

// RawFrame is a single uncompressed screen image. Data is only valid until
// Release is called.
type RawFrame struct {
	Data        []byte
	Width       int
	Height      int
	RowStride   int // bytes between the start of consecutive rows
	PixelStride int // bytes between consecutive pixels in a row
	Format      PixelFormat

	mu        sync.Mutex
	released  bool
	onRelease func()
}

// NewRawFrame wraps a pixel buffer. onRelease, if non-nil, runs once when the
// frame is released.
func NewRawFrame(data []byte, width, height, rowStride, pixelStride int, format PixelFormat, onRelease func()) *RawFrame {
	return &RawFrame{
		Data:        data,
		Width:       width,
		Height:      height,
		RowStride:   rowStride,
		PixelStride: pixelStride,
		Format:      format,
		onRelease:   onRelease,
	}
}

// Release returns the buffer to its producer. Safe to call more than once.
func (f *RawFrame) Release() {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	fn := f.onRelease
	f.onRelease = nil
	f.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Released reports whether Release has been called.
func (f *RawFrame) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// EncodedSample is one encoded access unit emitted by an encoder.
type EncodedSample struct {
	Data        []byte // H.264 Annex-B access unit
	PTS         int64  // presentation timestamp in microseconds
	IsKeyFrame  bool
	EndOfStream bool

	release func()
}

// NewEncodedSample builds a sample whose buffer is handed back through release.
func NewEncodedSample(data []byte, pts int64, isKey, eos bool, release func()) EncodedSample {
	return EncodedSample{
		Data:        data,
		PTS:         pts,
		IsKeyFrame:  isKey,
		EndOfStream: eos,
		release:     release,
	}
}

// Release hands the sample buffer back to the encoder.
func (s EncodedSample) Release() {
	if s.release != nil {
		s.release()
	}
}

// TrackFormat describes the single video track of a recording.
type TrackFormat struct {
	MimeType         string
	Width            int
	Height           int
	FrameRate        int
	BitRate          int
	KeyFrameInterval int // seconds

	// Parameter sets without start codes. Optional; taken from the first
	// key frame when empty.
	SPS []byte
	PPS []byte
}

// MimeTypeAVC is the only supported video track type.
const MimeTypeAVC = "video/avc"
