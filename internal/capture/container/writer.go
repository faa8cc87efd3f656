// Package container muxes encoded H.264 samples into a fragmented MP4 file.
package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/h264"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

const (
	videoTrackID   = 1
	videoTimeScale = 90000
	defaultFPS     = 30
)

var (
	// ErrTrackExists is returned when AddTrack is called a second time.
	ErrTrackExists = errors.New("container: track already added")

	errFileClosed = errors.New("container: file closed")
)

// State is the writer lifecycle state.
type State int

const (
	StateUnconfigured State = iota
	StateTrackAdded
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateTrackAdded:
		return "track-added"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// scaleTimestampToTimescale converts a timestamp expressed in microseconds
// into the given MP4 track timescale units.
func scaleTimestampToTimescale(timestampUs int64, timeScale uint32) int64 {
	if timestampUs <= 0 {
		return 0
	}
	return (timestampUs * int64(timeScale)) / 1_000_000
}

type pendingSample struct {
	payload []byte // AVCC
	dts     int64
	isKey   bool
}

// Writer writes one video track into a fragmented MP4 file: an init segment
// (ftyp+moov) followed by one moof+mdat fragment per GOP.
//
// Lifecycle: AddTrack once, Start, WriteSample any number of times, Stop.
// Close releases the file in any state.
type Writer struct {
	path   string
	logger *slog.Logger

	mu             sync.Mutex
	file           *os.File
	state          State
	format         core.TrackFormat
	codec          *mp4.CodecH264
	initWritten    bool
	pending        []pendingSample
	firstDTS       int64
	sequenceNumber uint32
	samples        uint64
	fragments      uint64
}

// NewWriter creates the output file, including missing parent directories.
func NewWriter(path string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = util.GetLogger()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &Writer{
		path:           path,
		logger:         logger.With("component", "container", "path", path),
		file:           f,
		sequenceNumber: 1,
	}, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// State returns the current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Samples returns the number of samples accepted so far.
func (w *Writer) Samples() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// AddTrack registers the single video track. It returns the track index.
func (w *Writer) AddTrack(format core.TrackFormat) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateUnconfigured {
		return -1, &core.StateError{Op: "add track", State: w.state.String(), Err: ErrTrackExists}
	}
	if format.MimeType != "" && format.MimeType != core.MimeTypeAVC {
		return -1, fmt.Errorf("%w: unsupported track type %q", core.ErrInvalidConfig, format.MimeType)
	}
	w.format = format
	w.state = StateTrackAdded
	w.logger.Debug("Track added", "width", format.Width, "height", format.Height, "fps", format.FrameRate)
	return 0, nil
}

// Start moves the writer to Started. The init segment is written right away
// when the track format carries SPS and PPS, otherwise with the first key
// frame.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateTrackAdded {
		return &core.StateError{Op: "start", State: w.state.String(), Err: core.ErrContainerNotReady}
	}
	if len(w.format.SPS) > 0 && len(w.format.PPS) > 0 {
		if err := w.writeInitLocked(w.format.SPS, w.format.PPS); err != nil {
			return err
		}
	}
	w.state = StateStarted
	w.logger.Info("Container started")
	return nil
}

func (w *Writer) writeInitLocked(sps, pps []byte) error {
	if w.file == nil {
		return errFileClosed
	}
	w.codec = &mp4.CodecH264{SPS: sps, PPS: pps}
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        videoTrackID,
				TimeScale: videoTimeScale,
				Codec:     w.codec,
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal init segment: %w", err)
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write init segment: %w", err)
	}
	w.initWritten = true
	w.logger.Debug("Init segment written", "size", len(buf.Bytes()))
	return nil
}

// WriteSample appends one encoded access unit. Outside Started the call is
// logged and ignored, returning core.ErrContainerNotReady.
func (w *Writer) WriteSample(sample core.EncodedSample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateStarted {
		err := &core.StateError{Op: "write sample", State: w.state.String(), Err: core.ErrContainerNotReady}
		w.logger.Warn("Ignoring sample, container not started", "state", w.state.String(), "pts", sample.PTS)
		return err
	}
	if len(sample.Data) == 0 {
		return nil
	}

	isKey := sample.IsKeyFrame || h264.IsKeyFrame(sample.Data)
	if !w.initWritten {
		if !isKey {
			w.logger.Debug("Skipping sample before first key frame", "pts", sample.PTS)
			return nil
		}
		sps, pps := h264.ExtractParameterSets(sample.Data)
		if sps == nil || pps == nil {
			return fmt.Errorf("%w: key frame without SPS/PPS", core.ErrInvalidFrame)
		}
		if err := w.writeInitLocked(sps, pps); err != nil {
			return err
		}
	}

	avcData, err := h264.ConvertAnnexBToAVC(sample.Data)
	if err != nil {
		return fmt.Errorf("failed to convert AnnexB to AVCC: %w", err)
	}
	if len(avcData) == 0 {
		return nil
	}
	if isKey {
		if sps, _ := h264.ExtractParameterSets(sample.Data); sps == nil {
			avcData = h264.PrependParameterSetsAVCC(avcData, w.codec.SPS, w.codec.PPS)
		}
	}

	dts := scaleTimestampToTimescale(sample.PTS, videoTimeScale)
	if w.samples == 0 {
		w.firstDTS = dts
	}
	if isKey && len(w.pending) > 0 {
		if err := w.flushLocked(dts); err != nil {
			return err
		}
	}

	w.pending = append(w.pending, pendingSample{payload: avcData, dts: dts, isKey: isKey})
	w.samples++
	return nil
}

func (w *Writer) defaultDuration() int64 {
	fps := w.format.FrameRate
	if fps <= 0 {
		fps = defaultFPS
	}
	return int64(videoTimeScale / fps)
}

// flushLocked writes the pending samples as one fragment. nextDTS is the
// timestamp of the sample that follows, or -1 at the end of the stream.
func (w *Writer) flushLocked(nextDTS int64) error {
	if len(w.pending) == 0 {
		return nil
	}
	if w.file == nil {
		return errFileClosed
	}

	samples := make([]*fmp4.Sample, len(w.pending))
	for i, p := range w.pending {
		var dur int64
		switch {
		case i+1 < len(w.pending):
			dur = w.pending[i+1].dts - p.dts
		case nextDTS >= 0:
			dur = nextDTS - p.dts
		}
		if dur <= 0 {
			dur = w.defaultDuration()
		}
		samples[i] = &fmp4.Sample{
			Duration:        uint32(dur),
			IsNonSyncSample: !p.isKey,
			Payload:         p.payload,
		}
	}

	baseTime := w.pending[0].dts - w.firstDTS
	if baseTime < 0 {
		baseTime = 0
	}
	part := &fmp4.Part{
		SequenceNumber: w.sequenceNumber,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       videoTrackID,
				BaseTime: uint64(baseTime),
				Samples:  samples,
			},
		},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}

	w.logger.Debug("Fragment written", "sequence", w.sequenceNumber, "samples", len(samples), "size", len(buf.Bytes()))
	w.sequenceNumber++
	w.fragments++
	w.pending = w.pending[:0]
	return nil
}

// Stop flushes the last fragment and closes the file. Calling Stop before
// Start logs a warning and does nothing; calling it again is a no-op.
// Finalize failures wrap core.ErrMuxerFinalize.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateStopped:
		return nil
	case StateUnconfigured, StateTrackAdded:
		w.logger.Warn("Stop called before start, ignoring", "state", w.state.String())
		return nil
	}
	w.state = StateStopped

	var errs []error
	if !w.initWritten {
		errs = append(errs, errors.New("no key frame was written"))
	}
	if err := w.flushLocked(-1); err != nil {
		errs = append(errs, err)
	}
	if err := w.closeFileLocked(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", core.ErrMuxerFinalize, errors.Join(errs...))
	}

	w.logger.Info("Container finalized", "samples", w.samples, "fragments", w.fragments)
	return nil
}

// Close releases the file. It does not flush pending samples; call Stop
// first for a playable file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFileLocked()
}

// Discard closes the file without finalizing it and removes it from disk.
// The writer ends up Stopped.
func (w *Writer) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state = StateStopped
	w.pending = nil
	closeErr := w.closeFileLocked()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", w.path, err)
	}
	if closeErr == nil {
		w.logger.Info("Container discarded")
	}
	return closeErr
}

func (w *Writer) closeFileLocked() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return fmt.Errorf("failed to sync %s: %w", w.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, closeErr)
	}
	return nil
}
