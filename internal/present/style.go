package present

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Style is the cosmetic treatment of the live layer. It never changes the
// composite itself, only what is shown.
type Style struct {
	// Blur is the gaussian sigma in pixels.
	Blur float64
	// Contrast and Saturation are CSS-style factors; 1 leaves the image alone.
	Contrast   float64
	Saturation float64
	Mirror     bool
	// CornerRadius clips the layer to a rounded rectangle.
	CornerRadius float64
}

// Apply returns a styled copy of img
func (s Style) Apply(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	if s.Blur > 0 {
		out = imaging.Blur(out, s.Blur)
	}
	if s.Contrast > 0 && s.Contrast != 1 {
		out = imaging.AdjustContrast(out, (s.Contrast-1)*100)
	}
	if s.Saturation >= 0 && s.Saturation != 1 {
		out = imaging.AdjustSaturation(out, (s.Saturation-1)*100)
	}
	if s.Mirror {
		out = imaging.FlipH(out)
	}
	roundCorners(out, s.CornerRadius)
	return out
}

// roundCorners scales alpha outside a rounded rectangle of radius r down to
// zero, with one pixel of antialiasing on the arc.
func roundCorners(img *image.NRGBA, r float64) {
	if r <= 0 {
		return
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	r = math.Min(r, math.Min(w, h)/2)

	for y := 0; y < b.Dy(); y++ {
		py := float64(y) + 0.5
		cy := math.Max(r, math.Min(h-r, py))
		for x := 0; x < b.Dx(); x++ {
			px := float64(x) + 0.5
			cx := math.Max(r, math.Min(w-r, px))
			if cx == px || cy == py {
				continue
			}
			d := math.Hypot(px-cx, py-cy)
			coverage := math.Max(0, math.Min(1, r-d+0.5))
			if coverage >= 1 {
				continue
			}
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y) + 3
			img.Pix[i] = uint8(math.Round(float64(img.Pix[i]) * coverage))
		}
	}
}
