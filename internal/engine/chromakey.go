package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
)

// ChromaKey segments by color distance from a key color. Pixels within
// tolerance of the key get confidence 0, pixels beyond tolerance+softness
// get 255, with a linear ramp in between.
type ChromaKey struct {
	key       color.NRGBA
	tolerance float64
	softness  float64

	mu     sync.Mutex
	fn     func(Result)
	closed bool
}

// NewChromaKey creates a chroma-key engine
func NewChromaKey(key color.NRGBA, tolerance, softness float64) *ChromaKey {
	return &ChromaKey{key: key, tolerance: tolerance, softness: softness}
}

// OnResults registers the result callback
func (c *ChromaKey) OnResults(fn func(Result)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

// Send segments f synchronously and reports the mask before returning
func (c *ChromaKey) Send(ctx context.Context, f *frame.Frame) error {
	c.mu.Lock()
	fn, closed := c.fn, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res := Result{Frame: f}
	if f != nil && f.Image != nil {
		res.Mask = frame.NewMask(c.Segment(f.Image), f.Seq)
	}
	if fn != nil {
		fn(res)
	}
	return nil
}

// Segment computes the confidence mask for img
func (c *ChromaKey) Segment(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			dr := float64(img.Pix[i]) - float64(c.key.R)
			dg := float64(img.Pix[i+1]) - float64(c.key.G)
			db := float64(img.Pix[i+2]) - float64(c.key.B)
			mask.Pix[y*mask.Stride+x] = c.confidence(math.Sqrt(dr*dr + dg*dg + db*db))
		}
	}
	return mask
}

func (c *ChromaKey) confidence(dist float64) uint8 {
	switch {
	case dist <= c.tolerance:
		return 0
	case c.softness <= 0 || dist >= c.tolerance+c.softness:
		return 255
	default:
		return uint8(math.Round((dist - c.tolerance) / c.softness * 255))
	}
}

// Name returns the engine name
func (c *ChromaKey) Name() string {
	return "chromakey"
}

// Close makes further Sends fail
func (c *ChromaKey) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// ParseHexColor parses "#rrggbb" or "rrggbb"
func ParseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("expected #rrggbb, got %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("expected #rrggbb, got %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
