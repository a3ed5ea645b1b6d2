package transition

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// DefaultDuration is the crossfade length from placeholder to live feed.
const DefaultDuration = 300 * time.Millisecond

// State of the presentation. Revealed is terminal.
type State int

const (
	Pending State = iota
	Revealed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Revealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// MarshalText makes State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stage is the surface the controller drives during the reveal.
type Stage interface {
	// ShowLive makes the live surface visible at the given opacity.
	ShowLive(opacity float64)
	// BeginRamp fades the live surface to liveTo and the placeholder to
	// placeholderTo over d.
	BeginRamp(liveTo, placeholderTo float64, d time.Duration)
	// RemovePlaceholder discards the placeholder for good.
	RemovePlaceholder()
}

// Phase names a step of the reveal.
type Phase string

const (
	PhaseRevealed           Phase = "revealed"
	PhaseRampStarted        Phase = "ramp_started"
	PhasePlaceholderRemoved Phase = "placeholder_removed"
)

// Event is published to subscribers at each reveal phase.
type Event struct {
	State State     `json:"state"`
	Phase Phase     `json:"phase"`
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
}

// Options configure the reveal.
type Options struct {
	Duration      time.Duration
	SteadyOpacity float64
}

// DefaultOptions returns the stock crossfade settings.
func DefaultOptions() Options {
	return Options{Duration: DefaultDuration, SteadyOpacity: 0.9}
}

// Controller switches the presentation from the placeholder to the live
// composite on the first successful composite of a session.
type Controller struct {
	stage Stage
	sched *Scheduler
	opts  Options
	log   *zerolog.Logger

	mu         sync.Mutex
	state      State
	revealSeq  uint64
	rampDone   bool
	removed    bool
	stopped    bool
	subs       map[chan Event]struct{}
	revealedAt time.Time
}

// New creates a controller in the Pending state.
func New(stage Stage, sched *Scheduler, opts Options) *Controller {
	if sched == nil {
		sched = NewScheduler(nil)
	}
	if opts.Duration < 0 {
		opts.Duration = 0
	}
	return &Controller{
		stage: stage,
		sched: sched,
		opts:  opts,
		log:   logger.WithComponent("transition"),
		state: Pending,
		subs:  make(map[chan Event]struct{}),
	}
}

// OnComposite feeds a compositor result to the state machine. Only the
// first Composited result of the session has any effect.
func (c *Controller) OnComposite(r compositor.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.state != Pending || !r.OK() {
		return
	}

	c.state = Revealed
	c.revealSeq = r.Seq
	c.revealedAt = c.sched.Now()
	c.stage.ShowLive(0)
	c.sched.Defer(c.beginRamp)

	c.log.Info().
		Uint64("seq", r.Seq).
		Dur("duration", c.opts.Duration).
		Msg("First composite, revealing live feed")
	c.publish(PhaseRevealed)
}

func (c *Controller) beginRamp() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stage.BeginRamp(c.opts.SteadyOpacity, 0, c.opts.Duration)
	c.rampDone = true
	c.sched.After(c.opts.Duration, c.removePlaceholder)
	c.publish(PhaseRampStarted)
}

func (c *Controller) removePlaceholder() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stage.RemovePlaceholder()
	c.removed = true
	c.log.Debug().Msg("Placeholder removed")
	c.publish(PhasePlaceholderRemoved)
}

// publish must be called with c.mu held
func (c *Controller) publish(phase Phase) {
	ev := Event{State: c.state, Phase: phase, Seq: c.revealSeq, At: c.sched.Now()}
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Warn().Str("phase", string(phase)).Msg("Subscriber not keeping up, event dropped")
		}
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a point-in-time view of the reveal progress.
type Status struct {
	State              State     `json:"state"`
	RevealSeq          uint64    `json:"reveal_seq,omitempty"`
	RevealedAt         time.Time `json:"revealed_at,omitempty"`
	RampStarted        bool      `json:"ramp_started"`
	PlaceholderRemoved bool      `json:"placeholder_removed"`
}

// Status reports where the reveal is.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:              c.state,
		RevealSeq:          c.revealSeq,
		RevealedAt:         c.revealedAt,
		RampStarted:        c.rampDone,
		PlaceholderRemoved: c.removed,
	}
}

// Subscribe returns a channel receiving reveal events. The channel is
// closed by Unsubscribe or Stop.
func (c *Controller) Subscribe() chan Event {
	ch := make(chan Event, 8)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		close(ch)
		return ch
	}
	c.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (c *Controller) Unsubscribe(ch chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

// Stop cancels any pending ramp or placeholder removal and closes all
// subscriptions. The state is left as it is.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for ch := range c.subs {
		close(ch)
	}
	c.subs = make(map[chan Event]struct{})
	c.mu.Unlock()

	c.sched.Stop()
}
