// Package engine adapts segmentation engines: a frame goes in, a confidence
// mask comes back through a registered callback.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/frame"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("engine closed")

// Result is what an engine reports for one submitted frame. Mask is nil when
// segmentation failed for that frame.
type Result struct {
	Frame *frame.Frame
	Mask  *frame.Mask
}

// Engine is a segmentation engine.
//
// Send submits one frame and returns once the engine has finished with it.
// The result is delivered to the OnResults callback, at the latest before
// Send returns. Callers submit one frame at a time.
type Engine interface {
	OnResults(fn func(Result))
	Send(ctx context.Context, f *frame.Frame) error
	Name() string
	Close() error
}

// New builds the engine selected in cfg.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Kind {
	case config.EngineChromaKey:
		key, err := ParseHexColor(cfg.KeyColor)
		if err != nil {
			return nil, fmt.Errorf("invalid engine.key_color: %w", err)
		}
		return NewChromaKey(key, cfg.Tolerance, cfg.Softness), nil
	case config.EngineRemote:
		return NewRemote(cfg.URL, RemoteOptions{
			ModelSelection: cfg.ModelSelection,
			SelfieMode:     cfg.SelfieMode,
		}), nil
	default:
		return nil, fmt.Errorf("unknown engine kind: %s", cfg.Kind)
	}
}
