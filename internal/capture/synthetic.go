package capture

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// SyntheticSource generates a test pattern: a skin-toned disc drifting across
// a chroma-green backdrop. It needs no hardware and pairs with the chromakey
// engine for demos and tests.
type SyntheticSource struct {
	size image.Point
	fps  int

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	dropped atomic.Uint64
}

// NewSyntheticSource creates a synthetic source at size and fps.
func NewSyntheticSource(size image.Point, fps int) *SyntheticSource {
	if fps <= 0 {
		fps = 30
	}
	return &SyntheticSource{size: size, fps: fps}
}

// Start begins generating frames
func (s *SyntheticSource) Start(ctx context.Context) (<-chan *frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("already running")}
	}
	if s.size.X <= 0 || s.size.Y <= 0 {
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("invalid size %v", s.size)}
	}

	out := make(chan *frame.Frame)
	s.stopChan = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.generate(ctx, out, s.stopChan)

	logger.WithComponent("capture").Info().
		Str("source", s.Name()).
		Int("width", s.size.X).
		Int("height", s.size.Y).
		Int("fps", s.fps).
		Msg("Capture source started")
	return out, nil
}

func (s *SyntheticSource) generate(ctx context.Context, out chan<- *frame.Frame, stop <-chan struct{}) {
	defer s.wg.Done()
	defer close(out)

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			seq++
			f := frame.New(Pattern(s.size, seq), seq, now)
			select {
			case out <- f:
			default:
				// consumer busy with the previous frame
				s.dropped.Add(1)
			}
		}
	}
}

// Stop halts generation and waits for the generator to exit
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopChan)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Dropped returns the number of frames the consumer was not ready for
func (s *SyntheticSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Name returns the source name
func (s *SyntheticSource) Name() string {
	return "synthetic"
}

// Pattern renders test frame seq: a disc on a chroma-green background.
func Pattern(size image.Point, seq uint64) *image.NRGBA {
	img := frame.Blank(size.X, size.Y)

	w, h := float64(size.X), float64(size.Y)
	radius := math.Min(w, h) * 0.3
	phase := float64(seq) / 60 * 2 * math.Pi
	cx := w/2 + math.Sin(phase)*(w/2-radius)
	cy := h / 2

	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			i := img.PixOffset(x, y)
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 224, 172, 105
			} else {
				img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 0, 177, 64
			}
			img.Pix[i+3] = 255
		}
	}
	return img
}
