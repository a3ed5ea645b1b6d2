package transition

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler runs delayed actions on a clock and can cancel them all at
// teardown. Use clock.NewMock() in tests to drive time by hand.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	pending map[*Action]struct{}
	stopped bool
}

// Action is a scheduled call that has not necessarily run yet.
type Action struct {
	sched *Scheduler
	timer *clock.Timer
	fn    func()

	mu        sync.Mutex
	done      bool
	cancelled bool
}

// NewScheduler returns a scheduler on c; nil means the wall clock.
func NewScheduler(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{
		clock:   c,
		pending: make(map[*Action]struct{}),
	}
}

// Clock returns the clock actions are scheduled on.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Defer runs fn on the next scheduling tick, never synchronously.
func (s *Scheduler) Defer(fn func()) *Action {
	return s.After(0, fn)
}

// After runs fn once d has elapsed. After Stop it returns an action that
// never runs.
func (s *Scheduler) After(d time.Duration, fn func()) *Action {
	a := &Action{sched: s, fn: fn}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		a.cancelled = true
		return a
	}
	s.pending[a] = struct{}{}
	a.timer = s.clock.AfterFunc(d, a.run)
	return a
}

func (a *Action) run() {
	a.mu.Lock()
	if a.done || a.cancelled {
		a.mu.Unlock()
		return
	}
	a.done = true
	a.mu.Unlock()

	a.sched.forget(a)
	a.fn()
}

// Cancel prevents the action from running. It reports whether the action
// was still pending.
func (a *Action) Cancel() bool {
	a.mu.Lock()
	if a.done || a.cancelled {
		a.mu.Unlock()
		return false
	}
	a.cancelled = true
	a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.sched.forget(a)
	return true
}

// Done reports whether the action has run.
func (a *Action) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (s *Scheduler) forget(a *Action) {
	s.mu.Lock()
	delete(s.pending, a)
	s.mu.Unlock()
}

// Pending returns the number of actions that have neither run nor been
// cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending action and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := make([]*Action, 0, len(s.pending))
	for a := range s.pending {
		pending = append(pending, a)
	}
	s.mu.Unlock()

	for _, a := range pending {
		a.Cancel()
	}
}
