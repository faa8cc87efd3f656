package grant

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

func okRequest() core.GrantRequest {
	return core.GrantRequest{ResultCode: core.ResultOK}
}

func TestSyntheticDenied(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{}, nil)
	_, err := s.RequestCapture(context.Background(), core.GrantRequest{ResultCode: core.ResultCanceled})
	assert.ErrorIs(t, err, core.ErrGrantDenied)
}

func TestSyntheticRenderTarget(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Width: 32, Height: 16, RowPadding: 12}, nil)
	g, err := s.RequestCapture(context.Background(), okRequest())
	require.NoError(t, err)
	defer g.Release()

	assert.Equal(t, core.DisplayInfo{Width: 32, Height: 16, Density: DefaultDensity}, g.Display())

	var submitted atomic.Int32
	frames := make(chan *core.RawFrame, 64)
	rt, err := g.CreateRenderTarget(core.RenderTargetSpec{Name: "test", Width: 32, Height: 16, FrameRate: 100},
		core.SurfaceFunc(func(f *core.RawFrame) {
			submitted.Add(1)
			select {
			case frames <- f:
			default:
				f.Release()
			}
		}))
	require.NoError(t, err)

	f := <-frames
	assert.Equal(t, 32*4+12, f.RowStride)
	assert.Equal(t, 4, f.PixelStride)
	assert.Len(t, f.Data, (32*4+12)*16)

	require.NoError(t, rt.Release())
	after := submitted.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, submitted.Load(), "no frames after release")
	require.NoError(t, rt.Release())
}

func TestRevocationCallbacks(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Width: 8, Height: 8}, nil)
	g, err := s.RequestCapture(context.Background(), okRequest())
	require.NoError(t, err)
	sg := g.(*SyntheticGrant)

	var first, second atomic.Int32
	g.OnRevoked(func() { first.Add(1) })
	unregister := g.OnRevoked(func() { second.Add(1) })
	unregister()

	sg.Revoke()
	sg.Revoke()
	assert.True(t, sg.Revoked())
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(0), second.Load())

	_, err = g.CreateRenderTarget(core.RenderTargetSpec{Width: 8, Height: 8}, core.SurfaceFunc(func(*core.RawFrame) {}))
	assert.ErrorIs(t, err, core.ErrGrantRevoked)

	require.NoError(t, g.Release())
	require.NoError(t, g.Release())
}

func TestSyntheticLifetime(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Width: 8, Height: 8, Lifetime: 20 * time.Millisecond}, nil)
	g, err := s.RequestCapture(context.Background(), okRequest())
	require.NoError(t, err)
	defer g.Release()

	revoked := make(chan struct{})
	g.OnRevoked(func() { close(revoked) })
	select {
	case <-revoked:
	case <-time.After(2 * time.Second):
		t.Fatal("grant did not expire")
	}
}

func TestReleaseStopsRenderTargets(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Width: 8, Height: 8}, nil)
	g, err := s.RequestCapture(context.Background(), okRequest())
	require.NoError(t, err)

	var submitted atomic.Int32
	_, err = g.CreateRenderTarget(core.RenderTargetSpec{Width: 8, Height: 8, FrameRate: 200},
		core.SurfaceFunc(func(f *core.RawFrame) {
			submitted.Add(1)
			f.Release()
		}))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return submitted.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, g.Release())
	after := submitted.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, submitted.Load())
}

func TestCaptureFailuresRevoke(t *testing.T) {
	g := newBaseGrant("broken", core.DisplayInfo{Width: 8, Height: 8}, func() (*core.RawFrame, error) {
		return nil, errors.New("display gone")
	}, util.GetLogger())

	revoked := make(chan struct{})
	g.OnRevoked(func() { close(revoked) })
	rt, err := g.CreateRenderTarget(core.RenderTargetSpec{FrameRate: 500}, core.SurfaceFunc(func(*core.RawFrame) {}))
	require.NoError(t, err)

	select {
	case <-revoked:
	case <-time.After(2 * time.Second):
		t.Fatal("grant not revoked after repeated capture failures")
	}
	require.NoError(t, rt.Release())
	require.NoError(t, g.Release())
}

func screencapOutput(width, height int, format uint32, withColorSpace bool) []byte {
	var out []byte
	out = binary.LittleEndian.AppendUint32(out, uint32(width))
	out = binary.LittleEndian.AppendUint32(out, uint32(height))
	out = binary.LittleEndian.AppendUint32(out, format)
	if withColorSpace {
		out = binary.LittleEndian.AppendUint32(out, 1)
	}
	pixels := make([]byte, width*height*4)
	pixels[0] = 0x42
	return append(out, pixels...)
}

func TestParseScreencap(t *testing.T) {
	for _, cs := range []bool{false, true} {
		f, err := parseScreencap(screencapOutput(6, 4, screencapRGBA8888, cs))
		require.NoError(t, err)
		assert.Equal(t, 6, f.Width)
		assert.Equal(t, 4, f.Height)
		assert.Equal(t, 24, f.RowStride)
		assert.Equal(t, core.PixelFormatRGBA8888, f.Format)
		assert.Equal(t, byte(0x42), f.Data[0])
		assert.Len(t, f.Data, 96)
	}

	f, err := parseScreencap(screencapOutput(2, 2, screencapRGBX8888, true))
	require.NoError(t, err)
	assert.Equal(t, core.PixelFormatRGBX8888, f.Format)

	_, err = parseScreencap([]byte{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
	_, err = parseScreencap(screencapOutput(2, 2, 4, false))
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
	_, err = parseScreencap(screencapOutput(2, 2, screencapRGBA8888, false)[:20])
	assert.ErrorIs(t, err, core.ErrInvalidFrame)
}

func TestParseWM(t *testing.T) {
	w, h, err := parseWMSize("Physical size: 1080x2400\n")
	require.NoError(t, err)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 2400, h)

	w, h, err = parseWMSize("Physical size: 1440x3200\nOverride size: 1080x2400\n")
	require.NoError(t, err)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 2400, h)

	_, _, err = parseWMSize("error: no devices")
	assert.Error(t, err)

	d, err := parseWMDensity("Physical density: 560\nOverride density: 420\n")
	require.NoError(t, err)
	assert.Equal(t, 420, d)
}

type fakeRunner map[string]string

func (r fakeRunner) RunCommand(cmd string, args ...string) (string, error) {
	key := cmd
	for _, a := range args {
		key += " " + a
	}
	out, ok := r[key]
	if !ok {
		return "", errors.New("unknown command " + key)
	}
	return out, nil
}

func TestQueryDisplay(t *testing.T) {
	info, err := queryDisplay(fakeRunner{"wm size": "Physical size: 720x1600"})
	require.NoError(t, err)
	assert.Equal(t, core.DisplayInfo{Width: 720, Height: 1600, Density: DefaultDensity}, info)

	info, err = queryDisplay(fakeRunner{"wm size": "Physical size: 720x1600", "wm density": "Physical density: 320"})
	require.NoError(t, err)
	assert.Equal(t, 320, info.Density)

	_, err = queryDisplay(fakeRunner{})
	assert.Error(t, err)
}

func TestPatternFrame(t *testing.T) {
	f := PatternFrame(4, 2, 8, 0)
	assert.Equal(t, 24, f.RowStride)
	assert.Equal(t, byte(0xAB), f.Data[16])
	assert.Equal(t, byte(0xFF), f.Data[3])
}
