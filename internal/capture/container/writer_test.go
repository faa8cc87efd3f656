package container

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func keySample(pts int64) core.EncodedSample {
	return core.NewEncodedSample(annexB(testSPS, testPPS, testIDR), pts, true, false, nil)
}

func deltaSample(pts int64) core.EncodedSample {
	return core.NewEncodedSample(annexB(testPFrame), pts, false, false, nil)
}

func newTestWriter(t *testing.T) (*Writer, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	w, err := NewWriter(filepath.Join(t.TempDir(), "nested", "record.mp4"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, &logs
}

func testFormat() core.TrackFormat {
	return core.TrackFormat{
		MimeType:         core.MimeTypeAVC,
		Width:            1920,
		Height:           1080,
		FrameRate:        30,
		BitRate:          5 * 1024 * 1024,
		KeyFrameInterval: 1,
	}
}

func TestWriterLifecycle(t *testing.T) {
	w, _ := newTestWriter(t)

	format := testFormat()
	format.SPS = testSPS
	format.PPS = testPPS
	idx, err := w.AddTrack(format)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, StateTrackAdded, w.State())

	require.NoError(t, w.Start())
	assert.Equal(t, StateStarted, w.State())

	require.NoError(t, w.WriteSample(keySample(0)))
	require.NoError(t, w.WriteSample(deltaSample(33_333)))
	require.NoError(t, w.WriteSample(keySample(66_666)))
	require.NoError(t, w.WriteSample(deltaSample(100_000)))
	require.NoError(t, w.WriteSample(core.NewEncodedSample(nil, 133_333, false, true, nil)))

	require.NoError(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, uint64(4), w.Samples())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "ftyp", string(data[4:8]))
	assert.Equal(t, 1, bytes.Count(data, []byte("moov")))
	assert.Equal(t, 2, bytes.Count(data, []byte("moof")), "one fragment per GOP")
	assert.Equal(t, 2, bytes.Count(data, []byte("mdat")))
}

func TestWriterTakesParameterSetsFromFirstKeyFrame(t *testing.T) {
	w, logs := newTestWriter(t)

	_, err := w.AddTrack(testFormat())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	require.NoError(t, w.WriteSample(deltaSample(0)))
	assert.Contains(t, logs.String(), "Skipping sample before first key frame")

	require.NoError(t, w.WriteSample(keySample(33_333)))
	require.NoError(t, w.Stop())
	assert.Equal(t, uint64(1), w.Samples())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	assert.Equal(t, "ftyp", string(data[4:8]))
	assert.Equal(t, 1, bytes.Count(data, []byte("moof")))
}

func TestWriterWriteBeforeStartIsIgnored(t *testing.T) {
	w, logs := newTestWriter(t)

	err := w.WriteSample(keySample(0))
	assert.ErrorIs(t, err, core.ErrContainerNotReady)
	assert.Contains(t, logs.String(), "container not started")

	_, err = w.AddTrack(testFormat())
	require.NoError(t, err)
	err = w.WriteSample(keySample(0))
	assert.ErrorIs(t, err, core.ErrContainerNotReady)
	assert.Equal(t, uint64(0), w.Samples())

	info, err := os.Stat(w.Path())
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestWriterStopIsSafe(t *testing.T) {
	w, logs := newTestWriter(t)

	require.NoError(t, w.Stop())
	assert.Contains(t, logs.String(), "Stop called before start")
	assert.Equal(t, StateUnconfigured, w.State())

	_, err := w.AddTrack(testFormat())
	require.NoError(t, err)
	require.NoError(t, w.Stop())
	assert.Equal(t, StateTrackAdded, w.State())

	require.NoError(t, w.Start())
	require.NoError(t, w.WriteSample(keySample(0)))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Close())

	err = w.WriteSample(keySample(33_333))
	assert.ErrorIs(t, err, core.ErrContainerNotReady)
}

func TestWriterMisuse(t *testing.T) {
	w, _ := newTestWriter(t)

	assert.ErrorIs(t, w.Start(), core.ErrContainerNotReady)

	_, err := w.AddTrack(core.TrackFormat{MimeType: "video/hevc"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = w.AddTrack(testFormat())
	require.NoError(t, err)
	_, err = w.AddTrack(testFormat())
	assert.ErrorIs(t, err, ErrTrackExists)

	require.NoError(t, w.Start())
	assert.ErrorIs(t, w.Start(), core.ErrContainerNotReady)
}

func TestWriterStopWithoutKeyFrame(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.AddTrack(testFormat())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	err = w.Stop()
	assert.ErrorIs(t, err, core.ErrMuxerFinalize)
	assert.Equal(t, StateStopped, w.State())
}

func TestWriterDiscardRemovesFile(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.AddTrack(testFormat())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.WriteSample(keySample(0)))

	require.NoError(t, w.Discard())
	assert.Equal(t, StateStopped, w.State())
	_, err = os.Stat(w.Path())
	assert.True(t, os.IsNotExist(err), "output should be removed, got %v", err)

	require.NoError(t, w.Discard())
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.WriteSample(keySample(33_333)), core.ErrContainerNotReady)
}

func TestScaleTimestamp(t *testing.T) {
	assert.Equal(t, int64(0), scaleTimestampToTimescale(-5, videoTimeScale))
	assert.Equal(t, int64(90000), scaleTimestampToTimescale(1_000_000, videoTimeScale))
	assert.Equal(t, int64(2999), scaleTimestampToTimescale(33_333, videoTimeScale))
}

// The generated file must be readable by ffprobe.
func TestWriterFFProbeValidation(t *testing.T) {
	if err := exec.Command("ffprobe", "-version").Run(); err != nil {
		t.Skip("ffprobe not available, skipping validation test")
	}

	w, _ := newTestWriter(t)
	format := testFormat()
	format.SPS = testSPS
	format.PPS = testPPS
	_, err := w.AddTrack(format)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteSample(keySample(int64(i)*33_333)))
	}
	require.NoError(t, w.Stop())

	out, err := exec.Command("ffprobe", "-v", "quiet", "-print_format", "json", "-show_streams", w.Path()).Output()
	require.NoError(t, err, "ffprobe should be able to parse the generated file")
	assert.Contains(t, string(out), "h264")
}
