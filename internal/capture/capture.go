package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/frame"
)

// Source defines the interface for camera/capture backends
type Source interface {
	// Start initializes the source and returns the stream of frames.
	// Frames are delivered unbuffered: when the consumer is not ready the
	// source drops the frame rather than queueing it. The channel is closed
	// when the source stops or ctx is done.
	Start(ctx context.Context) (<-chan *frame.Frame, error)

	// Stop releases resources and stops any background processes
	Stop() error

	// Name returns a human-readable name for this source
	Name() string
}

// InitError reports a capture source that could not start (no device,
// permission denied, missing binary). It is fatal for the session.
type InitError struct {
	Source string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("capture source %s failed to initialize: %v", e.Source, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// NewSource builds the source selected in cfg, delivering frames of size.
func NewSource(cfg config.CaptureConfig, size image.Point) (Source, error) {
	switch cfg.Source {
	case config.CaptureSynthetic:
		return NewSyntheticSource(size, cfg.FPS), nil
	case config.CaptureImages:
		return NewImageSource(cfg.Path, size, cfg.FPS), nil
	case config.CaptureGStreamer:
		return NewGStreamerSource(cfg.Device, size, cfg.FPS), nil
	case config.CaptureX11:
		return NewX11Source(cfg.Region.Rect(), size, cfg.FPS), nil
	default:
		return nil, fmt.Errorf("unknown capture source: %s", cfg.Source)
	}
}
