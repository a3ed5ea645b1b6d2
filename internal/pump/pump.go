// Package pump moves frames from a capture source through a segmentation
// engine into the compositor, one frame in flight at a time.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CutoutCam/internal/capture"
	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/engine"
	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// ErrEngineStall is logged when the engine does not finish a frame within
// the send timeout.
var ErrEngineStall = errors.New("segmentation engine stalled")

// Skip reasons added by the pump on top of the compositor's own.
const (
	ReasonEngineStall compositor.SkipReason = "engine_stall"
	ReasonEngineError compositor.SkipReason = "engine_error"
)

// DefaultSendTimeout bounds a single engine submission.
const DefaultSendTimeout = 5 * time.Second

// Compositor is the part of the compositor the pump drives
type Compositor interface {
	Composite(f *frame.Frame, m *frame.Mask) compositor.Result
}

// Sink receives the result of every step, in order, on the pump goroutine.
type Sink interface {
	OnComposite(r compositor.Result)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(compositor.Result)

func (f SinkFunc) OnComposite(r compositor.Result) {
	f(r)
}

// Options configure the pump
type Options struct {
	// SendTimeout bounds engine.Send; zero waits forever.
	SendTimeout time.Duration
}

// Stats are running counters, safe to read at any time
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Composited uint64 `json:"composited"`
	Skipped    uint64 `json:"skipped"`
	Stalls     uint64 `json:"stalls"`
	Failures   uint64 `json:"failures"`
	Discarded  uint64 `json:"discarded"`
	Replaced   uint64 `json:"replaced"`
}

// Pump is the capture pump
type Pump struct {
	src   capture.Source
	eng   engine.Engine
	comp  Compositor
	sinks []Sink
	opts  Options
	log   *zerolog.Logger

	// mailbox holds at most one engine result; the engine callback offers
	// into it and the pump loop takes from it after each Send.
	mailbox chan engine.Result

	submitted  atomic.Uint64
	composited atomic.Uint64
	skipped    atomic.Uint64
	stalls     atomic.Uint64
	failures   atomic.Uint64
	discarded  atomic.Uint64
	replaced   atomic.Uint64

	stopped atomic.Bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires src, eng and comp together. Sinks see every step's result.
func New(src capture.Source, eng engine.Engine, comp Compositor, opts Options, sinks ...Sink) *Pump {
	p := &Pump{
		src:     src,
		eng:     eng,
		comp:    comp,
		sinks:   sinks,
		opts:    opts,
		log:     logger.WithComponent("pump"),
		mailbox: make(chan engine.Result, 1),
		done:    make(chan struct{}),
	}
	eng.OnResults(p.deliver)
	return p
}

// deliver is the engine callback. It may run on any goroutine.
func (p *Pump) deliver(res engine.Result) {
	if p.stopped.Load() {
		p.discarded.Add(1)
		return
	}

	select {
	case p.mailbox <- res:
		return
	default:
	}

	// The engine answered twice for one submission; keep the newest.
	select {
	case <-p.mailbox:
		p.replaced.Add(1)
		p.log.Warn().Msg("Engine delivered more than one result per frame, replacing")
	default:
	}
	select {
	case p.mailbox <- res:
	default:
		p.discarded.Add(1)
	}
}

// Start starts the capture source and the pump loop. A source that fails
// to start yields a *capture.InitError and nothing else happens.
func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pump already started")
	}
	if p.stopped.Load() {
		return fmt.Errorf("pump stopped")
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames, err := p.src.Start(runCtx)
	if err != nil {
		cancel()
		var initErr *capture.InitError
		if !errors.As(err, &initErr) {
			initErr = &capture.InitError{Source: p.src.Name(), Err: err}
		}
		p.log.Error().Err(initErr).Str("source", p.src.Name()).Msg("Capture source failed to start")
		return initErr
	}

	p.started = true
	p.cancel = cancel

	p.log.Info().
		Str("source", p.src.Name()).
		Str("engine", p.eng.Name()).
		Dur("send_timeout", p.opts.SendTimeout).
		Msg("Capture pump started")

	go p.run(runCtx, frames)
	return nil
}

func (p *Pump) run(ctx context.Context, frames <-chan *frame.Frame) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				p.log.Info().Msg("Capture source ended")
				return
			}
			if f == nil {
				continue
			}
			p.step(ctx, f)
		}
	}
}

// step submits f, waits for the engine, then composites its result
func (p *Pump) step(ctx context.Context, f *frame.Frame) {
	p.drain()
	p.submitted.Add(1)

	sendCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.opts.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, p.opts.SendTimeout)
	}
	err := p.eng.Send(sendCtx, f)
	cancel()

	if ctx.Err() != nil || p.stopped.Load() {
		return
	}

	if err != nil {
		reason := ReasonEngineError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonEngineStall
			p.stalls.Add(1)
			p.log.Warn().
				Err(ErrEngineStall).
				Uint64("seq", f.Seq).
				Dur("timeout", p.opts.SendTimeout).
				Msg("Engine did not acknowledge frame, advancing")
		} else {
			p.failures.Add(1)
			p.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("Engine submission failed")
		}
		p.drain()
		p.emit(compositor.Result{Outcome: compositor.Skipped, Reason: reason, Seq: f.Seq})
		return
	}

	res := engine.Result{Frame: f}
	select {
	case res = <-p.mailbox:
		if res.Frame != nil && res.Frame.Seq != f.Seq {
			p.discarded.Add(1)
			p.log.Debug().
				Uint64("seq", f.Seq).
				Uint64("got", res.Frame.Seq).
				Msg("Discarding result for another frame")
			res = engine.Result{Frame: f}
		}
	default:
		p.log.Debug().Uint64("seq", f.Seq).Msg("Engine acknowledged without a result")
	}

	p.emit(p.comp.Composite(res.Frame, res.Mask))
}

// drain throws away results that belong to an earlier step
func (p *Pump) drain() {
	for {
		select {
		case <-p.mailbox:
			p.discarded.Add(1)
		default:
			return
		}
	}
}

func (p *Pump) emit(r compositor.Result) {
	if r.OK() {
		p.composited.Add(1)
		p.log.Debug().Uint64("seq", r.Seq).Int("visible", r.Visible).Dur("took", r.Duration).Msg("Composited")
	} else {
		p.skipped.Add(1)
		p.log.Debug().Uint64("seq", r.Seq).Str("reason", string(r.Reason)).Msg("Skipped")
	}
	for _, s := range p.sinks {
		s.OnComposite(r)
	}
}

// Stop halts submission, stops the source and waits for the loop to exit.
// Results arriving afterwards are discarded. Safe to call more than once.
func (p *Pump) Stop() error {
	if p.stopped.Swap(true) {
		return nil
	}

	p.mu.Lock()
	started, cancel := p.started, p.cancel
	p.mu.Unlock()

	if !started {
		return nil
	}

	cancel()
	<-p.done
	p.drain()

	if err := p.src.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture source: %w", err)
	}

	st := p.Stats()
	p.log.Info().
		Uint64("submitted", st.Submitted).
		Uint64("composited", st.Composited).
		Uint64("skipped", st.Skipped).
		Uint64("stalls", st.Stalls).
		Msg("Capture pump stopped")
	return nil
}

// Done is closed when the pump loop exits, whether by Stop or because the
// source ended.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Stats returns a snapshot of the counters
func (p *Pump) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Composited: p.composited.Load(),
		Skipped:    p.skipped.Load(),
		Stalls:     p.stalls.Load(),
		Failures:   p.failures.Load(),
		Discarded:  p.discarded.Load(),
		Replaced:   p.replaced.Load(),
	}
}
