// Package frame holds the two pixel payloads that flow through the pipeline:
// color frames from the capture source and confidence masks from the
// segmentation engine.
package frame

import (
	"image"
	"image/color"
	"time"
)

// Frame is one color sample from the capture source. Pixels are
// non-premultiplied RGBA. A Frame must not be modified once delivered.
type Frame struct {
	Image      *image.NRGBA
	Seq        uint64
	CapturedAt time.Time
}

// New wraps img as a delivered frame.
func New(img *image.NRGBA, seq uint64, capturedAt time.Time) *Frame {
	return &Frame{Image: img, Seq: seq, CapturedAt: capturedAt}
}

// Size returns the frame dimensions, or the zero point for an absent frame.
func (f *Frame) Size() image.Point {
	if f == nil || f.Image == nil {
		return image.Point{}
	}
	return f.Image.Bounds().Size()
}

// Mask is the per-pixel confidence image produced for a Frame. Channel 0 of
// each pixel carries the confidence in [0,255]; the other channels are
// ignored. Any image.Image is accepted, *image.Gray being the common case.
type Mask struct {
	Image image.Image
	Seq   uint64
}

// NewMask wraps img as the mask for frame seq.
func NewMask(img image.Image, seq uint64) *Mask {
	return &Mask{Image: img, Seq: seq}
}

// Size returns the mask dimensions, or the zero point for an absent mask.
func (m *Mask) Size() image.Point {
	if m == nil || m.Image == nil {
		return image.Point{}
	}
	return m.Image.Bounds().Size()
}

// Confidence returns channel 0 of the pixel at (x, y), relative to the
// mask's bounds origin. Premultiplied images are read as straight alpha.
func (m *Mask) Confidence(x, y int) uint8 {
	b := m.Image.Bounds()
	x, y = x+b.Min.X, y+b.Min.Y
	switch img := m.Image.(type) {
	case *image.Gray:
		return img.GrayAt(x, y).Y
	case *image.NRGBA:
		return img.NRGBAAt(x, y).R
	default:
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).R
	}
}

// Blank returns a zeroed, fully transparent NRGBA image of the given size.
func Blank(width, height int) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}
