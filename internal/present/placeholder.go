package present

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	placeholderBackground = color.NRGBA{R: 24, G: 24, B: 28, A: 255}
	placeholderText       = color.NRGBA{R: 170, G: 170, B: 180, A: 255}
)

// LoadPlaceholder reads the placeholder image at path and fills it to size.
// An empty path yields a generated card showing label.
func LoadPlaceholder(path, label string, size image.Point) (*image.NRGBA, error) {
	if path == "" {
		return GeneratePlaceholder(label, size), nil
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open placeholder %s: %w", path, err)
	}
	return imaging.Fill(img, size.X, size.Y, imaging.Center, imaging.Lanczos), nil
}

// GeneratePlaceholder draws a flat card with label centered on it.
func GeneratePlaceholder(label string, size image.Point) *image.NRGBA {
	img := imaging.New(size.X, size.Y, placeholderBackground)
	if label == "" {
		return img
	}

	// basicfont keeps the card free of font files
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(placeholderText),
		Face: face,
	}
	width := d.MeasureString(label).Ceil()
	metrics := face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	x := (size.X - width) / 2
	y := (size.Y-height)/2 + metrics.Ascent.Ceil()
	d.Dot = fixed.P(x, y)
	d.DrawString(label)
	return img
}
