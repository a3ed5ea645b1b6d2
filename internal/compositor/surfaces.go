package compositor

import (
	"image"
	"sync"
)

// Surfaces is the frame buffer pair owned by a Compositor: the composite
// surface holding the current output and the scratch surface the mask is
// decoded into. Both are sized to the configured output resolution.
//
// The composite surface is double-buffered. The compositor writes into the
// back buffer and publishes it with a swap, so readers always see a whole
// frame. Only the compositor's goroutine touches the back buffer and the
// scratch surface.
type Surfaces struct {
	width   int
	height  int
	back    *image.NRGBA
	scratch *image.NRGBA

	mu      sync.RWMutex
	front   *image.NRGBA
	version uint64
}

// NewSurfaces allocates the pair at width x height.
func NewSurfaces(width, height int) *Surfaces {
	rect := image.Rect(0, 0, width, height)
	return &Surfaces{
		width:   width,
		height:  height,
		back:    image.NewNRGBA(rect),
		scratch: image.NewNRGBA(rect),
		front:   image.NewNRGBA(rect),
	}
}

// Size returns the output resolution.
func (s *Surfaces) Size() image.Point {
	return image.Pt(s.width, s.height)
}

// Bounds returns the output rectangle anchored at the origin.
func (s *Surfaces) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.width, s.height)
}

// clear resets every channel of every pixel of the back and scratch surfaces.
func (s *Surfaces) clear() {
	clear(s.back.Pix)
	clear(s.scratch.Pix)
}

// publish makes the back buffer the visible composite surface.
func (s *Surfaces) publish() {
	s.mu.Lock()
	s.front, s.back = s.back, s.front
	s.version++
	s.mu.Unlock()
}

// View calls fn with the published composite surface. fn must not retain or
// modify img; the buffer is reused once fn returns.
func (s *Surfaces) View(fn func(img *image.NRGBA, version uint64)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.front, s.version)
}

// Snapshot returns a copy of the published composite surface.
func (s *Surfaces) Snapshot() (*image.NRGBA, uint64) {
	var (
		out     *image.NRGBA
		version uint64
	)
	s.View(func(img *image.NRGBA, v uint64) {
		out = image.NewNRGBA(img.Bounds())
		copy(out.Pix, img.Pix)
		version = v
	})
	return out, version
}

// Version counts publishes since allocation. Zero means nothing has been
// composited yet.
func (s *Surfaces) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
