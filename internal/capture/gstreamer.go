package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// GStreamerSource captures a V4L2 camera through a gst-launch-1.0 subprocess
// writing raw RGBA frames to stdout. Running GStreamer out of process keeps
// cgo out of the binary.
type GStreamerSource struct {
	device string
	size   image.Point
	fps    int

	// overridable for tests
	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)

	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewGStreamerSource creates a camera source for device (e.g. /dev/video0)
func NewGStreamerSource(device string, size image.Point, fps int) *GStreamerSource {
	if fps <= 0 {
		fps = 30
	}
	return &GStreamerSource{
		device:   device,
		size:     size,
		fps:      fps,
		lookPath: exec.LookPath,
		stat:     os.Stat,
	}
}

// Pipeline returns the gst-launch pipeline description
func (g *GStreamerSource) Pipeline() string {
	return fmt.Sprintf(
		"v4l2src device=%s ! "+
			"videoconvert ! "+
			"videoscale ! "+
			"videorate ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1 ! "+
			"fdsink fd=1 sync=false",
		g.device, g.size.X, g.size.Y, g.fps,
	)
}

// Start checks the device, launches the subprocess and streams its frames
func (g *GStreamerSource) Start(ctx context.Context) (<-chan *frame.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("already running")}
	}

	log := logger.WithComponent("capture")

	bin, err := g.lookPath("gst-launch-1.0")
	if err != nil {
		return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("gst-launch-1.0 not found: %w", err)}
	}

	if _, err := g.stat(g.device); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("permission denied for %s: %w", g.device, err)}
		}
		return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("no camera device %s: %w", g.device, err)}
	}

	pipeline := g.Pipeline()
	log.Debug().Str("pipeline", pipeline).Msg("Starting GStreamer subprocess")

	cmd := exec.Command(bin, append([]string{"-q"}, strings.Fields(pipeline)...)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("failed to get stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("failed to get stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &InitError{Source: g.Name(), Err: fmt.Errorf("failed to start gst-launch: %w", err)}
	}

	out := make(chan *frame.Frame)
	g.cmd = cmd
	g.stopChan = make(chan struct{})
	g.running = true

	g.wg.Add(2)
	go g.readFrames(ctx, stdout, out, g.stopChan)
	go g.logStderr(stderr)

	log.Info().
		Str("source", g.Name()).
		Str("device", g.device).
		Int("pid", cmd.Process.Pid).
		Msg("Capture source started")
	return out, nil
}

// readFrames reads exactly one frame worth of bytes at a time from stdout
func (g *GStreamerSource) readFrames(ctx context.Context, stdout io.Reader, out chan<- *frame.Frame, stop <-chan struct{}) {
	defer g.wg.Done()
	defer close(out)

	log := logger.WithComponent("capture")
	frameSize := g.size.X * g.size.Y * 4
	reader := bufio.NewReaderSize(stdout, frameSize*2)

	var seq uint64
	for {
		img := frame.Blank(g.size.X, g.size.Y)
		if _, err := io.ReadFull(reader, img.Pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Error().Err(err).Msg("Error reading frame")
			} else {
				log.Debug().Msg("EOF from GStreamer subprocess")
			}
			return
		}
		seq++

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case out <- frame.New(img, seq, time.Now()):
		default:
		}
	}
}

// logStderr forwards GStreamer diagnostics to the log
func (g *GStreamerSource) logStderr(stderr io.Reader) {
	defer g.wg.Done()

	log := logger.WithComponent("capture")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the readers to exit
func (g *GStreamerSource) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	close(g.stopChan)
	cmd := g.cmd
	g.running = false
	g.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		logger.WithComponent("capture").Debug().Int("pid", cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	g.wg.Wait()
	logger.WithComponent("capture").Info().Msg("GStreamer subprocess stopped")
	return nil
}

// Name returns the source name
func (g *GStreamerSource) Name() string {
	return "gstreamer"
}
