package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/disintegration/imaging"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// X11Source grabs a region of the X11 root window as its camera, e.g. a
// video player or a virtual camera preview window.
type X11Source struct {
	region image.Rectangle
	size   image.Point
	fps    int

	mu       sync.Mutex
	conn     *xgb.Conn
	root     xproto.Window
	depth    byte
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	dropped atomic.Uint64
}

// NewX11Source creates a source grabbing region of the root window. An
// empty region grabs the whole screen. Frames are fitted to size.
func NewX11Source(region image.Rectangle, size image.Point, fps int) *X11Source {
	if fps <= 0 {
		fps = 30
	}
	return &X11Source{region: region, size: size, fps: fps}
}

// Start connects to the X server and begins grabbing
func (s *X11Source) Start(ctx context.Context) (<-chan *frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("already running")}
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("failed to connect to X server: %w", err)}
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("unsupported root depth %d", screen.RootDepth)}
	}

	screenRect := image.Rect(0, 0, int(screen.WidthInPixels), int(screen.HeightInPixels))
	region := s.region
	if region.Empty() {
		region = screenRect
	}
	region = region.Intersect(screenRect)
	if region.Empty() {
		conn.Close()
		return nil, &InitError{Source: s.Name(), Err: fmt.Errorf("region %v is outside the %v screen", s.region, screenRect.Size())}
	}

	s.conn = conn
	s.root = screen.Root
	s.depth = screen.RootDepth

	out := make(chan *frame.Frame)
	s.stopChan = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.grab(ctx, region, out, s.stopChan)

	logger.WithComponent("capture").Info().
		Str("source", s.Name()).
		Str("region", region.String()).
		Int("width", s.size.X).
		Int("height", s.size.Y).
		Int("fps", s.fps).
		Msg("Capture source started")
	return out, nil
}

func (s *X11Source) grab(ctx context.Context, region image.Rectangle, out chan<- *frame.Frame, stop <-chan struct{}) {
	defer s.wg.Done()
	defer close(out)

	log := logger.WithComponent("capture")
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
			img, err := s.captureRegion(region)
			if err != nil {
				log.Warn().Err(err).Str("source", s.Name()).Msg("Failed to grab region")
				continue
			}
			seq++
			select {
			case out <- frame.New(img, seq, now):
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// captureRegion reads region of the root window and fits it to the frame size
func (s *X11Source) captureRegion(region image.Rectangle) (*image.NRGBA, error) {
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		int16(region.Min.X), int16(region.Min.Y),
		uint16(region.Dx()), uint16(region.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	img := convertZPixmap(reply.Data, region.Dx(), region.Dy())
	if img.Bounds().Size() != s.size {
		img = imaging.Fill(img, s.size.X, s.size.Y, imaging.Center, imaging.Linear)
	}
	return img, nil
}

// convertZPixmap converts 32 bits per pixel BGRX data to opaque NRGBA
func convertZPixmap(data []byte, width, height int) *image.NRGBA {
	img := frame.Blank(width, height)
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}

// Stop halts grabbing and closes the X connection
func (s *X11Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopChan)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.conn.Close()
	return nil
}

// Dropped returns the number of frames the consumer was not ready for
func (s *X11Source) Dropped() uint64 {
	return s.dropped.Load()
}

// Name returns the source name
func (s *X11Source) Name() string {
	return "x11"
}
