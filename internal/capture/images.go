package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// ImageSource replays the PNG/JPEG files of a directory in name order, in a
// loop, fitted to the output size. Useful for recorded sessions.
type ImageSource struct {
	dir  string
	size image.Point
	fps  int

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewImageSource creates a source replaying the images in dir
func NewImageSource(dir string, size image.Point, fps int) *ImageSource {
	if fps <= 0 {
		fps = 30
	}
	return &ImageSource{dir: dir, size: size, fps: fps}
}

// Start decodes every image up front and begins the replay
func (s *ImageSource) Start(ctx context.Context) (<-chan *frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("already running")}
	}

	images, err := s.load()
	if err != nil {
		return nil, &InitError{Source: s.Name(), Err: err}
	}

	out := make(chan *frame.Frame)
	s.stopChan = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.replay(ctx, images, out, s.stopChan)

	logger.WithComponent("capture").Info().
		Str("source", s.Name()).
		Str("dir", s.dir).
		Int("images", len(images)).
		Int("fps", s.fps).
		Msg("Capture source started")
	return out, nil
}

func (s *ImageSource) load() ([]*image.NRGBA, error) {
	if s.dir == "" {
		return nil, fmt.Errorf("no image directory configured")
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images found in %s", s.dir)
	}
	sort.Strings(names)

	images := make([]*image.NRGBA, 0, len(names))
	for _, name := range names {
		img, err := imaging.Open(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		images = append(images, imaging.Fill(img, s.size.X, s.size.Y, imaging.Center, imaging.Lanczos))
	}
	return images, nil
}

func (s *ImageSource) replay(ctx context.Context, images []*image.NRGBA, out chan<- *frame.Frame, stop <-chan struct{}) {
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
			img := images[int(seq%uint64(len(images)))]
			seq++
			select {
			case out <- frame.New(img, seq, now):
			default:
			}
		}
	}
}

// Stop halts the replay
func (s *ImageSource) Stop() error {
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

// Name returns the source name
func (s *ImageSource) Name() string {
	return "images"
}
