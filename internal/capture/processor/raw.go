package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

// RawProcessor converts raw frames into images of the logical display size.
type RawProcessor struct {
	Width   int
	Height  int
	Quality int
}

// Process removes row padding from frame and crops it to the logical size.
// The returned image does not alias the frame buffer.
func (p RawProcessor) Process(frame *core.RawFrame) (*image.RGBA, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", core.ErrInvalidFrame)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: logical size %dx%d", core.ErrInvalidFrame, p.Width, p.Height)
	}
	bpp := frame.Format.BytesPerPixel()
	if bpp == 0 || frame.PixelStride != bpp {
		return nil, fmt.Errorf("%w: unsupported pixel layout %s with stride %d", core.ErrInvalidFrame,
			frame.Format, frame.PixelStride)
	}

	rowPadding := frame.RowStride - frame.PixelStride*p.Width
	if rowPadding < 0 {
		return nil, fmt.Errorf("%w: row stride %d shorter than %d pixels", core.ErrInvalidFrame, frame.RowStride, p.Width)
	}
	bufferWidth := p.Width + rowPadding/frame.PixelStride

	rows := p.Height
	if frame.Height > 0 && frame.Height < rows {
		rows = frame.Height
	}
	padded := image.NewRGBA(image.Rect(0, 0, bufferWidth, rows))
	rowBytes := bufferWidth * bpp
	for y := 0; y < rows; y++ {
		src := y * frame.RowStride
		if src >= len(frame.Data) {
			return nil, fmt.Errorf("%w: buffer holds %d of %d rows", core.ErrInvalidFrame, y, rows)
		}
		end := src + rowBytes
		if end > len(frame.Data) {
			end = len(frame.Data)
		}
		copy(padded.Pix[y*padded.Stride:], frame.Data[src:end])
	}
	if frame.Format == core.PixelFormatRGBX8888 {
		for i := 3; i < len(padded.Pix); i += 4 {
			padded.Pix[i] = 0xFF
		}
	}

	return Crop(padded, 0, 0, p.Width, p.Height)
}

// Compress encodes img as JPEG at the processor quality, clamped to 1..100.
func (p RawProcessor) Compress(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: core.ClampQuality(p.Quality)}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop copies the width x height region at (x, y) out of src. The result
// has its origin at (0, 0).
func Crop(src *image.RGBA, x, y, width, height int) (*image.RGBA, error) {
	b := src.Bounds()
	if x < 0 || y < 0 || width <= 0 || height <= 0 ||
		x+width > b.Dx() || y+height > b.Dy() {
		return nil, fmt.Errorf("%w: %dx%d at (%d,%d) in %dx%d",
			core.ErrCropOutOfBounds, width, height, x, y, b.Dx(), b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for row := 0; row < height; row++ {
		off := src.PixOffset(b.Min.X+x, b.Min.Y+y+row)
		copy(dst.Pix[row*dst.Stride:row*dst.Stride+width*4], src.Pix[off:off+width*4])
	}
	return dst, nil
}
