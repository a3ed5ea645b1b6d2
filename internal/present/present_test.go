package present

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/frame"
)

func plainOptions(size image.Point) Options {
	return Options{
		Layout: Layout{Canvas: size},
		Style:  Style{Contrast: 1, Saturation: 1},
	}
}

func solid(size image.Point, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// publish composites an opaque frame of color c
func publish(t *testing.T, comp *compositor.Compositor, c color.NRGBA, seq uint64) {
	t.Helper()
	size := comp.Surfaces().Size()
	mask := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	res := comp.Composite(frame.New(solid(size, c), seq, time.Now()), frame.NewMask(mask, seq))
	require.True(t, res.OK())
}

func TestRampInterpolation(t *testing.T) {
	start := time.Unix(100, 0)
	r := ramp{from: 0, to: 0.9, start: start, duration: 300 * time.Millisecond}

	assert.Equal(t, 0.0, r.at(start.Add(-time.Second)))
	assert.Equal(t, 0.0, r.at(start))
	assert.InDelta(t, 0.45, r.at(start.Add(150*time.Millisecond)), 1e-9)
	assert.Equal(t, 0.9, r.at(start.Add(300*time.Millisecond)))
	assert.Equal(t, 0.9, r.at(start.Add(time.Hour)))

	assert.Equal(t, 0.4, steady(0.4).at(start))
}

func TestPresenterStageLifecycle(t *testing.T) {
	mock := clock.NewMock()
	size := image.Pt(8, 6)
	surfaces := compositor.NewSurfaces(size.X, size.Y)
	p := New(surfaces, GeneratePlaceholder("", size), plainOptions(size), mock)

	live, holder := p.Opacities()
	assert.Equal(t, 0.0, live)
	assert.Equal(t, 1.0, holder)
	assert.True(t, p.PlaceholderPresent())

	p.ShowLive(0)
	live, _ = p.Opacities()
	assert.Equal(t, 0.0, live)

	p.BeginRamp(0.9, 0, 300*time.Millisecond)
	mock.Add(150 * time.Millisecond)
	live, holder = p.Opacities()
	assert.InDelta(t, 0.45, live, 1e-9)
	assert.InDelta(t, 0.5, holder, 1e-9)

	mock.Add(150 * time.Millisecond)
	live, holder = p.Opacities()
	assert.Equal(t, 0.9, live)
	assert.Equal(t, 0.0, holder)

	p.RemovePlaceholder()
	assert.False(t, p.PlaceholderPresent())
	_, holder = p.Opacities()
	assert.Equal(t, 0.0, holder)
}

func TestRenderPlaceholderOnly(t *testing.T) {
	size := image.Pt(8, 6)
	surfaces := compositor.NewSurfaces(size.X, size.Y)
	ph := solid(size, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	p := New(surfaces, ph, plainOptions(size), clock.NewMock())

	out := p.Render()
	assert.Equal(t, size, out.Bounds().Size())
	assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255}, out.NRGBAAt(3, 3))
	assert.Equal(t, uint64(1), p.Rendered())
}

func TestRenderLiveAfterReveal(t *testing.T) {
	mock := clock.NewMock()
	size := image.Pt(8, 6)
	surfaces := compositor.NewSurfaces(size.X, size.Y)
	comp := compositor.New(surfaces, compositor.DefaultOptions())
	p := New(surfaces, solid(size, color.NRGBA{R: 255, A: 255}), plainOptions(size), mock)

	publish(t, comp, color.NRGBA{G: 255, A: 255}, 1)

	// live at zero opacity shows only the placeholder
	p.ShowLive(0)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, p.Render().NRGBAAt(4, 3))

	p.BeginRamp(1, 0, 100*time.Millisecond)
	mock.Add(100 * time.Millisecond)
	p.RemovePlaceholder()
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, p.Render().NRGBAAt(4, 3))

	// a new composite is picked up, the cache keyed by surface version
	publish(t, comp, color.NRGBA{B: 255, A: 255}, 2)
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, p.Render().NRGBAAt(4, 3))
}

func TestRenderStylesOutsideSurfaceLock(t *testing.T) {
	mock := clock.NewMock()
	size := image.Pt(8, 6)
	surfaces := compositor.NewSurfaces(size.X, size.Y)
	comp := compositor.New(surfaces, compositor.DefaultOptions())
	p := New(surfaces, nil, plainOptions(size), mock)

	styling := make(chan struct{})
	release := make(chan struct{})
	apply := p.style
	p.style = func(img image.Image) *image.NRGBA {
		close(styling)
		<-release
		return apply(img)
	}

	publish(t, comp, color.NRGBA{G: 255, A: 255}, 1)
	p.ShowLive(1)

	rendered := make(chan *image.NRGBA, 1)
	go func() { rendered <- p.Render() }()
	<-styling

	composited := make(chan compositor.Result, 1)
	go func() {
		size := surfaces.Size()
		mask := image.NewGray(image.Rect(0, 0, size.X, size.Y))
		for i := range mask.Pix {
			mask.Pix[i] = 255
		}
		composited <- comp.Composite(frame.New(solid(size, color.NRGBA{B: 255, A: 255}), 2, time.Now()), frame.NewMask(mask, 2))
	}()

	select {
	case res := <-composited:
		assert.True(t, res.OK())
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("composite blocked while the live layer was being styled")
	}
	assert.Equal(t, uint64(2), surfaces.Version())

	close(release)
	out := <-rendered
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, out.NRGBAAt(4, 3), "render uses the frame copied before styling")
}

func TestRenderLayout(t *testing.T) {
	size := image.Pt(4, 4)
	surfaces := compositor.NewSurfaces(size.X, size.Y)
	opts := plainOptions(size)
	opts.Layout = Layout{Canvas: image.Pt(10, 8), Offset: image.Pt(3, 2)}
	p := New(surfaces, solid(size, color.NRGBA{R: 255, G: 255, B: 255, A: 255}), opts, clock.NewMock())

	out := p.Render()
	assert.Equal(t, image.Pt(10, 8), p.Size())
	assert.Equal(t, image.Pt(10, 8), out.Bounds().Size())
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(0, 0), "container is black")
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, out.NRGBAAt(3, 2))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, out.NRGBAAt(6, 5))
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(7, 6))
}

func TestRenderCanvasTooSmall(t *testing.T) {
	surfaces := compositor.NewSurfaces(8, 6)
	opts := plainOptions(image.Pt(4, 4))
	p := New(surfaces, nil, opts, clock.NewMock())
	assert.Equal(t, image.Pt(8, 6), p.Size())
	assert.False(t, p.PlaceholderPresent())
}

func TestStyleMirror(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{B: 255, A: 255})

	out := Style{Contrast: 1, Saturation: 1, Mirror: true}.Apply(img)
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(1, 0))

	// input untouched
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, img.NRGBAAt(0, 0))
}

func TestStyleKeepsTransparentPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	out := Style{Contrast: 1.3, Saturation: 0.9}.Apply(img)
	for i := 3; i < len(out.Pix); i += 4 {
		assert.Equal(t, uint8(0), out.Pix[i])
	}
}

func TestRoundCorners(t *testing.T) {
	img := solid(image.Pt(20, 16), color.NRGBA{R: 255, A: 255})
	roundCorners(img, 5)

	assert.Equal(t, uint8(0), img.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(0), img.NRGBAAt(19, 15).A)
	assert.Equal(t, uint8(255), img.NRGBAAt(10, 0).A, "edge between corners")
	assert.Equal(t, uint8(255), img.NRGBAAt(0, 8).A)
	assert.Equal(t, uint8(255), img.NRGBAAt(10, 8).A)
	assert.Equal(t, uint8(255), img.NRGBAAt(3, 3).A, "inside the arc")

	untouched := solid(image.Pt(4, 4), color.NRGBA{A: 255})
	roundCorners(untouched, 0)
	assert.Equal(t, uint8(255), untouched.NRGBAAt(0, 0).A)
}

func TestGeneratePlaceholder(t *testing.T) {
	size := image.Pt(120, 40)
	img := GeneratePlaceholder("camera starting", size)
	assert.Equal(t, size, img.Bounds().Size())
	assert.Equal(t, placeholderBackground, img.NRGBAAt(0, 0))

	var text int
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if img.NRGBAAt(x, y) != placeholderBackground {
				text++
			}
		}
	}
	assert.Positive(t, text, "label drawn")
}

func TestLoadPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ph.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(image.Pt(40, 20), color.NRGBA{R: 9, G: 9, B: 9, A: 255})))
	require.NoError(t, f.Close())

	img, err := LoadPlaceholder(path, "", image.Pt(10, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 10), img.Bounds().Size())
	assert.Equal(t, color.NRGBA{R: 9, G: 9, B: 9, A: 255}, img.NRGBAAt(5, 5))

	_, err = LoadPlaceholder(filepath.Join(dir, "missing.png"), "", image.Pt(10, 10))
	assert.Error(t, err)

	img, err = LoadPlaceholder("", "x", image.Pt(10, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 10), img.Bounds().Size())
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.Defaults().Presentation)
	assert.Equal(t, image.Pt(523, 380), opts.Layout.Canvas)
	assert.Equal(t, image.Pt(58, 55), opts.Layout.Offset)
	assert.Equal(t, 30.0, opts.Style.Blur)
	assert.Equal(t, 1.3, opts.Style.Contrast)
	assert.Equal(t, 0.9, opts.Style.Saturation)
	assert.True(t, opts.Style.Mirror)
	assert.Equal(t, 133.5, opts.Style.CornerRadius)
}

type captureOutput struct {
	mu     sync.Mutex
	frames int
}

func (c *captureOutput) Start() error    { return nil }
func (c *captureOutput) Stop() error     { return nil }
func (c *captureOutput) Name() string    { return "capture" }
func (c *captureOutput) IsRunning() bool { return true }

func (c *captureOutput) WriteFrame(image.Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	return nil
}

func (c *captureOutput) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func TestRun(t *testing.T) {
	mock := clock.NewMock()
	size := image.Pt(4, 4)
	p := New(compositor.NewSurfaces(size.X, size.Y), nil, plainOptions(size), mock)
	out := &captureOutput{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, 10, out)
	}()

	// the ticker is created inside Run; keep advancing until frames flow
	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		return out.count() >= 3
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
