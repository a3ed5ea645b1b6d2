// Package present renders what the viewer sees: the styled live composite
// crossfading over a placeholder inside a fixed black container.
package present

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
	"github.com/bryanchriswhite/CutoutCam/internal/output"
)

// Layout places the live layer inside the container.
type Layout struct {
	Canvas image.Point
	Offset image.Point
}

// Options configure a Presenter
type Options struct {
	Layout Layout
	Style  Style
}

// OptionsFromConfig maps the presentation section of the config
func OptionsFromConfig(cfg config.PresentationConfig) Options {
	return Options{
		Layout: Layout{
			Canvas: image.Pt(cfg.CanvasWidth, cfg.CanvasHeight),
			Offset: image.Pt(cfg.OffsetX, cfg.OffsetY),
		},
		Style: Style{
			Blur:         cfg.BlurRadius,
			Contrast:     cfg.Contrast,
			Saturation:   cfg.Saturation,
			Mirror:       cfg.Mirror,
			CornerRadius: cfg.CornerRadius,
		},
	}
}

// ramp is an opacity moving linearly from one value to another
type ramp struct {
	from, to float64
	start    time.Time
	duration time.Duration
}

func steady(v float64) ramp {
	return ramp{from: v, to: v}
}

func (r ramp) at(now time.Time) float64 {
	if r.duration <= 0 {
		return r.to
	}
	t := float64(now.Sub(r.start)) / float64(r.duration)
	switch {
	case t <= 0:
		return r.from
	case t >= 1:
		return r.to
	default:
		return r.from + (r.to-r.from)*t
	}
}

// Presenter is the presentation surface. It implements transition.Stage.
type Presenter struct {
	surfaces    *compositor.Surfaces
	placeholder *image.NRGBA
	opts        Options
	clock       clock.Clock
	log         *zerolog.Logger

	mu            sync.Mutex
	liveVisible   bool
	live          ramp
	holderPresent bool
	holder        ramp

	// styled live layer, keyed by surface version
	cacheMu      sync.Mutex
	cacheVersion uint64
	cache        *image.NRGBA
	latest       *image.NRGBA
	style        func(image.Image) *image.NRGBA

	rendered uint64
}

// New creates a presenter over surfaces. The placeholder starts fully
// visible and the live layer hidden.
func New(surfaces *compositor.Surfaces, placeholder image.Image, opts Options, c clock.Clock) *Presenter {
	if c == nil {
		c = clock.New()
	}
	size := surfaces.Size()
	var ph *image.NRGBA
	if placeholder != nil {
		ph = imaging.Fill(placeholder, size.X, size.Y, imaging.Center, imaging.Lanczos)
		roundCorners(ph, opts.Style.CornerRadius)
	}
	if opts.Layout.Canvas.X < size.X || opts.Layout.Canvas.Y < size.Y {
		opts.Layout.Canvas = size
		opts.Layout.Offset = image.Point{}
	}

	return &Presenter{
		surfaces:      surfaces,
		placeholder:   ph,
		opts:          opts,
		clock:         c,
		log:           logger.WithComponent("present"),
		holderPresent: ph != nil,
		holder:        steady(1),
		style:         opts.Style.Apply,
	}
}

// ShowLive makes the live layer visible at opacity
func (p *Presenter) ShowLive(opacity float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liveVisible = true
	p.live = steady(opacity)
}

// BeginRamp fades both layers from where they are now to the targets over d
func (p *Presenter) BeginRamp(liveTo, placeholderTo float64, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	p.live = ramp{from: p.live.at(now), to: liveTo, start: now, duration: d}
	p.holder = ramp{from: p.holder.at(now), to: placeholderTo, start: now, duration: d}
	p.log.Debug().Float64("live_to", liveTo).Float64("placeholder_to", placeholderTo).Dur("duration", d).Msg("Crossfade started")
}

// RemovePlaceholder drops the placeholder layer
func (p *Presenter) RemovePlaceholder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holderPresent = false
	p.placeholder = nil
}

// Opacities reports the current live and placeholder opacity. A layer that
// is not shown reports zero.
func (p *Presenter) Opacities() (live, placeholder float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	if p.liveVisible {
		live = p.live.at(now)
	}
	if p.holderPresent {
		placeholder = p.holder.at(now)
	}
	return live, placeholder
}

// PlaceholderPresent reports whether the placeholder is still part of the scene
func (p *Presenter) PlaceholderPresent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holderPresent
}

// Size returns the rendered frame size
func (p *Presenter) Size() image.Point {
	return p.opts.Layout.Canvas
}

// Render draws the current scene: black container, placeholder, then the
// styled live composite on top.
func (p *Presenter) Render() *image.NRGBA {
	p.mu.Lock()
	now := p.clock.Now()
	liveVisible := p.liveVisible
	liveOpacity := p.live.at(now)
	ph := p.placeholder
	holderOpacity := 0.0
	if p.holderPresent {
		holderOpacity = p.holder.at(now)
	}
	p.mu.Unlock()

	canvas := imaging.New(p.opts.Layout.Canvas.X, p.opts.Layout.Canvas.Y, color.NRGBA{A: 255})

	if ph != nil && holderOpacity > 0 {
		canvas = imaging.Overlay(canvas, ph, p.opts.Layout.Offset, holderOpacity)
	}
	if liveVisible && liveOpacity > 0 {
		canvas = imaging.Overlay(canvas, p.styledLive(), p.opts.Layout.Offset, liveOpacity)
	}

	p.mu.Lock()
	p.rendered++
	p.mu.Unlock()
	return canvas
}

// styledLive returns the styled composite, restyling only when the
// compositor has published a new frame. The surface is copied under its
// lock and styled outside it, so styling never holds up a publish.
func (p *Presenter) styledLive() *image.NRGBA {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	version := p.surfaces.Version()
	if p.cache != nil && version == p.cacheVersion {
		return p.cache
	}

	p.surfaces.View(func(img *image.NRGBA, v uint64) {
		if p.latest == nil || p.latest.Bounds() != img.Bounds() {
			p.latest = image.NewNRGBA(img.Bounds())
		}
		copy(p.latest.Pix, img.Pix)
		version = v
	})
	styled := p.style(p.latest)
	p.cache = styled
	p.cacheVersion = version
	return styled
}

// Rendered returns how many frames have been rendered
func (p *Presenter) Rendered() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendered
}

// Run renders at fps and writes every frame to outs until ctx is done.
func (p *Presenter) Run(ctx context.Context, fps int, outs ...output.Output) {
	if fps <= 0 {
		fps = 30
	}
	ticker := p.clock.Ticker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	p.log.Info().Int("fps", fps).Int("outputs", len(outs)).Msg("Presenter started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Uint64("rendered", p.Rendered()).Msg("Presenter stopped")
			return
		case <-ticker.C:
			frame := p.Render()
			for _, out := range outs {
				if !out.IsRunning() {
					continue
				}
				if err := out.WriteFrame(frame); err != nil {
					p.log.Warn().Err(err).Str("output", out.Name()).Msg("Failed to write frame")
				}
			}
		}
	}
}
