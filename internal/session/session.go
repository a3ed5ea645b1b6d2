// Package session owns one run of the pipeline: capture pump, compositor,
// transition controller and presenter, from construction to teardown.
package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CutoutCam/internal/capture"
	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/engine"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
	"github.com/bryanchriswhite/CutoutCam/internal/metrics"
	"github.com/bryanchriswhite/CutoutCam/internal/output"
	"github.com/bryanchriswhite/CutoutCam/internal/present"
	"github.com/bryanchriswhite/CutoutCam/internal/pump"
	"github.com/bryanchriswhite/CutoutCam/internal/transition"
)

type options struct {
	clock       clock.Clock
	outputs     []output.Output
	placeholder image.Image
	sinks       []pump.Sink
}

// Option customizes a Session
type Option func(*options)

// WithClock drives the transition and presenter from c instead of the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithOutputs adds outputs fed by the presenter.
func WithOutputs(outs ...output.Output) Option {
	return func(o *options) { o.outputs = append(o.outputs, outs...) }
}

// WithPlaceholder uses img instead of loading the configured placeholder.
func WithPlaceholder(img image.Image) Option {
	return func(o *options) { o.placeholder = img }
}

// WithSinks adds extra observers of every pump step.
func WithSinks(sinks ...pump.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// Session wires the pipeline together
type Session struct {
	id  string
	cfg *config.Config
	log *zerolog.Logger

	engine     engine.Engine
	surfaces   *compositor.Surfaces
	compositor *compositor.Compositor
	pump       *pump.Pump
	controller *transition.Controller
	presenter  *present.Presenter
	metrics    *metrics.Metrics
	outputs    []output.Output

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a session for cfg around src and eng. Nothing runs until Start.
func New(cfg *config.Config, src capture.Source, eng engine.Engine, opts ...Option) (*Session, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	id := uuid.NewString()
	size := image.Pt(cfg.Output.Width, cfg.Output.Height)

	placeholder := o.placeholder
	if placeholder == nil {
		ph, err := present.LoadPlaceholder(cfg.Placeholder.Path, cfg.Placeholder.Label, size)
		if err != nil {
			return nil, fmt.Errorf("failed to load placeholder: %w", err)
		}
		placeholder = ph
	}

	s := &Session{
		id:      id,
		cfg:     cfg,
		log:     logger.WithSession("session", id),
		engine:  eng,
		outputs: o.outputs,
	}

	s.surfaces = compositor.NewSurfaces(size.X, size.Y)
	s.compositor = compositor.New(s.surfaces, compositor.Options{
		AlphaThreshold: uint8(cfg.Compositor.AlphaThreshold),
		ResampleInputs: cfg.Compositor.ResampleInputs,
	})
	s.presenter = present.New(s.surfaces, placeholder, present.OptionsFromConfig(cfg.Presentation), o.clock)
	s.controller = transition.New(s.presenter, transition.NewScheduler(o.clock), transition.Options{
		Duration:      cfg.Transition.Duration,
		SteadyOpacity: cfg.Presentation.Opacity,
	})
	s.metrics = metrics.New(metrics.Sources{
		Stats: func() pump.Stats { return s.pump.Stats() },
		State: s.controller.State,
	})

	sinks := append([]pump.Sink{s.controller, s.metrics}, o.sinks...)
	s.pump = pump.New(src, eng, s.compositor, pump.Options{SendTimeout: cfg.Engine.SendTimeout}, sinks...)

	return s, nil
}

// Start starts the outputs, the capture pump and the presenter. A capture
// source that cannot start is returned as *capture.InitError and the
// session does not proceed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("session already started")
	}
	if s.stopped {
		return fmt.Errorf("session stopped")
	}

	if err := s.pump.Start(ctx); err != nil {
		return err
	}

	for _, out := range s.outputs {
		if err := out.Start(); err != nil {
			s.log.Warn().Err(err).Str("output", out.Name()).Msg("Failed to start output")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.startedAt = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.presenter.Run(runCtx, s.cfg.Output.FPS, s.outputs...)
	}()

	s.log.Info().
		Int("width", s.cfg.Output.Width).
		Int("height", s.cfg.Output.Height).
		Str("engine", s.engine.Name()).
		Msg("Session started")
	return nil
}

// Stop halts frame submission, cancels any pending transition step, stops
// the presenter and outputs and closes the engine. Safe to call twice.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	var errs []error
	if err := s.pump.Stop(); err != nil {
		errs = append(errs, err)
	}
	s.controller.Stop()

	if started {
		cancel()
		s.wg.Wait()
		for _, out := range s.outputs {
			if err := out.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop %s: %w", out.Name(), err))
			}
		}
	}

	if err := s.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close engine: %w", err))
	}

	s.log.Info().Msg("Session stopped")
	if len(errs) > 0 {
		return fmt.Errorf("session stop: %v", errs)
	}
	return nil
}

// Done is closed when the capture pump exits
func (s *Session) Done() <-chan struct{} {
	return s.pump.Done()
}

// ID returns the session's unique id
func (s *Session) ID() string { return s.id }

// Surfaces returns the frame buffer pair
func (s *Session) Surfaces() *compositor.Surfaces { return s.surfaces }

// Controller returns the transition controller
func (s *Session) Controller() *transition.Controller { return s.controller }

// Presenter returns the presentation surface
func (s *Session) Presenter() *present.Presenter { return s.presenter }

// Metrics returns the session's prometheus collectors
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// Config returns the configuration the session was built with
func (s *Session) Config() *config.Config { return s.cfg }

// Status is a point-in-time summary of the session
type Status struct {
	ID                 string            `json:"id"`
	Engine             string            `json:"engine"`
	StartedAt          time.Time         `json:"started_at"`
	Transition         transition.Status `json:"transition"`
	Pump               pump.Stats        `json:"pump"`
	SurfaceVersion     uint64            `json:"surface_version"`
	Rendered           uint64            `json:"rendered"`
	LiveOpacity        float64           `json:"live_opacity"`
	PlaceholderOpacity float64           `json:"placeholder_opacity"`
}

// Status reports where the session is
func (s *Session) Status() Status {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	live, holder := s.presenter.Opacities()
	return Status{
		ID:                 s.id,
		Engine:             s.engine.Name(),
		StartedAt:          startedAt,
		Transition:         s.controller.Status(),
		Pump:               s.pump.Stats(),
		SurfaceVersion:     s.surfaces.Version(),
		Rendered:           s.presenter.Rendered(),
		LiveOpacity:        live,
		PlaceholderOpacity: holder,
	}
}
