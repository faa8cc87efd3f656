// Package encoder provides the H.264 encoder used by the recording path.
package encoder

import (
	"fmt"
	"strings"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

// Preset is a rate policy for the encoder.
type Preset struct {
	Name             string
	FrameRate        int
	BitRate          int // bits per second
	KeyFrameInterval int // seconds
}

var (
	// PresetRecord is used for local recordings.
	PresetRecord = Preset{Name: "record", FrameRate: 30, BitRate: 5 * 1024 * 1024, KeyFrameInterval: 1}
	// PresetLive trades quality for bandwidth.
	PresetLive = Preset{Name: "live", FrameRate: 10, BitRate: 512 * 1024, KeyFrameInterval: 1}
)

// PresetByName looks a preset up by name. An empty name selects PresetRecord.
func PresetByName(name string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetRecord.Name:
		return PresetRecord, nil
	case PresetLive.Name:
		return PresetLive, nil
	default:
		return Preset{}, fmt.Errorf("%w: unknown encoder preset %q", core.ErrInvalidConfig, name)
	}
}

// TrackFormat returns the track format for a width x height stream.
func (p Preset) TrackFormat(width, height int) core.TrackFormat {
	return core.TrackFormat{
		MimeType:         core.MimeTypeAVC,
		Width:            width,
		Height:           height,
		FrameRate:        p.FrameRate,
		BitRate:          p.BitRate,
		KeyFrameInterval: p.KeyFrameInterval,
	}
}
