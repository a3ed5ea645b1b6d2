package compositor

import (
	"image"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// DefaultAlphaThreshold is the mask confidence a pixel must strictly exceed
// to be kept. Anything at or below it becomes fully transparent, which keeps
// low-confidence ghost edges off screen.
const DefaultAlphaThreshold uint8 = 128

// Outcome tells whether a compositing step updated the output.
type Outcome int

const (
	Skipped Outcome = iota
	Composited
)

func (o Outcome) String() string {
	if o == Composited {
		return "composited"
	}
	return "skipped"
}

// SkipReason explains a Skipped outcome.
type SkipReason string

const (
	ReasonNone           SkipReason = ""
	ReasonMissingFrame   SkipReason = "missing_frame"
	ReasonMissingMask    SkipReason = "missing_mask"
	ReasonSizeMismatch   SkipReason = "size_mismatch"
	ReasonOutputMismatch SkipReason = "output_mismatch"
)

// Result is returned by Composite for every step.
type Result struct {
	Outcome Outcome
	Reason  SkipReason
	Seq     uint64
	// Visible counts pixels whose alpha survived the threshold.
	Visible  int
	Duration time.Duration
}

// OK reports whether the step produced a new composite.
func (r Result) OK() bool {
	return r.Outcome == Composited
}

func skipped(reason SkipReason, seq uint64) Result {
	return Result{Outcome: Skipped, Reason: reason, Seq: seq}
}

// Options tune the compositor.
type Options struct {
	// AlphaThreshold is the strict lower bound on mask confidence.
	AlphaThreshold uint8
	// ResampleInputs lets a frame/mask pair whose size differs from the
	// output be scaled to it instead of being skipped.
	ResampleInputs bool
}

// DefaultOptions returns the deployment defaults.
func DefaultOptions() Options {
	return Options{AlphaThreshold: DefaultAlphaThreshold}
}

// Compositor combines a Frame and its Mask into the composite surface.
// It is not safe for concurrent use; the capture pump is its only caller.
type Compositor struct {
	surfaces *Surfaces
	opts     Options
	log      *zerolog.Logger
}

// New returns a compositor writing into surfaces.
func New(surfaces *Surfaces, opts Options) *Compositor {
	return &Compositor{
		surfaces: surfaces,
		opts:     opts,
		log:      logger.WithComponent("compositor"),
	}
}

// Surfaces returns the frame buffer pair the compositor owns.
func (c *Compositor) Surfaces() *Surfaces {
	return c.surfaces
}

// Composite cuts the frame out along the mask and publishes the result.
// Invalid input leaves both surfaces untouched and returns a Skipped result.
func (c *Compositor) Composite(f *frame.Frame, m *frame.Mask) Result {
	var seq uint64
	if f != nil {
		seq = f.Seq
	}
	if reason := c.check(f, m); reason != ReasonNone {
		c.log.Debug().
			Uint64("seq", seq).
			Str("reason", string(reason)).
			Msg("Composite skipped")
		return skipped(reason, seq)
	}

	start := time.Now()
	s := c.surfaces

	s.clear()
	decodeInto(s.scratch, m.Image)
	decodeInto(s.back, f.Image)
	visible := applyMask(s.back.Pix, s.scratch.Pix, c.opts.AlphaThreshold)
	s.publish()

	return Result{
		Outcome:  Composited,
		Seq:      seq,
		Visible:  visible,
		Duration: time.Since(start),
	}
}

func (c *Compositor) check(f *frame.Frame, m *frame.Mask) SkipReason {
	switch {
	case f == nil || f.Image == nil:
		return ReasonMissingFrame
	case m == nil || m.Image == nil:
		return ReasonMissingMask
	}

	fs, ms := f.Size(), m.Size()
	if fs != ms {
		return ReasonSizeMismatch
	}
	if fs != c.surfaces.Size() && !c.opts.ResampleInputs {
		return ReasonOutputMismatch
	}
	if fs.X == 0 || fs.Y == 0 {
		return ReasonSizeMismatch
	}
	return ReasonNone
}

// decodeInto renders src over the whole of dst, scaling when sizes differ.
func decodeInto(dst *image.NRGBA, src image.Image) {
	sb := src.Bounds()
	db := dst.Bounds()
	if sb.Size() != db.Size() {
		draw.ApproxBiLinear.Scale(dst, db, src, sb, draw.Src, nil)
		return
	}
	if n, ok := src.(*image.NRGBA); ok {
		rowLen := db.Dx() * 4
		for y := 0; y < db.Dy(); y++ {
			so := n.PixOffset(sb.Min.X, sb.Min.Y+y)
			do := y * dst.Stride
			copy(dst.Pix[do:do+rowLen], n.Pix[so:so+rowLen])
		}
		return
	}
	draw.Draw(dst, db, src, sb.Min, draw.Src)
}

// applyMask sets the alpha of every pixel of pix from channel 0 of the
// matching mask pixel, keeping it only when strictly above threshold.
// Color channels are never written. Both buffers must be tightly packed and
// the same length.
func applyMask(pix, mask []uint8, threshold uint8) int {
	visible := 0
	for i := 0; i+3 < len(pix); i += 4 {
		if v := mask[i]; v > threshold {
			pix[i+3] = v
			visible++
		} else {
			pix[i+3] = 0
		}
	}
	return visible
}
