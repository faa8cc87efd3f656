package grant

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

// Pixel formats reported in the screencap header.
const (
	screencapRGBA8888 = 1
	screencapRGBX8888 = 2
)

// parseScreencap decodes raw `screencap` output: a little-endian header of
// width, height, format and, on newer releases, a color space, followed by
// tightly packed pixels.
func parseScreencap(out []byte) (*core.RawFrame, error) {
	if len(out) < 12 {
		return nil, fmt.Errorf("%w: screencap output too short (%d bytes)", core.ErrInvalidFrame, len(out))
	}
	width := int(binary.LittleEndian.Uint32(out[0:4]))
	height := int(binary.LittleEndian.Uint32(out[4:8]))
	format := binary.LittleEndian.Uint32(out[8:12])

	var pf core.PixelFormat
	switch format {
	case screencapRGBA8888:
		pf = core.PixelFormatRGBA8888
	case screencapRGBX8888:
		pf = core.PixelFormatRGBX8888
	default:
		return nil, fmt.Errorf("%w: unsupported screencap pixel format %d", core.ErrInvalidFrame, format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: screencap size %dx%d", core.ErrInvalidFrame, width, height)
	}

	bpp := pf.BytesPerPixel()
	pixels := width * height * bpp
	header := len(out) - pixels
	if header != 12 && header != 16 {
		return nil, fmt.Errorf("%w: screencap holds %d bytes for %dx%d", core.ErrInvalidFrame, len(out), width, height)
	}
	return core.NewRawFrame(out[header:], width, height, width*bpp, bpp, pf, nil), nil
}

var (
	wmSizeRe    = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)
	wmDensityRe = regexp.MustCompile(`(Physical|Override) density:\s*(\d+)`)
)

// parseWMSize reads `wm size` output, preferring the override size.
func parseWMSize(out string) (width, height int, err error) {
	matches := wmSizeRe.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, 0, fmt.Errorf("unexpected wm size output: %q", out)
	}
	m := matches[0]
	for _, cand := range matches {
		if cand[1] == "Override" {
			m = cand
		}
	}
	width, _ = strconv.Atoi(m[2])
	height, _ = strconv.Atoi(m[3])
	return width, height, nil
}

// parseWMDensity reads `wm density` output, preferring the override density.
func parseWMDensity(out string) (int, error) {
	matches := wmDensityRe.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("unexpected wm density output: %q", out)
	}
	m := matches[0]
	for _, cand := range matches {
		if cand[1] == "Override" {
			m = cand
		}
	}
	density, _ := strconv.Atoi(m[2])
	return density, nil
}
