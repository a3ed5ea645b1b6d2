package transition

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
)

type call struct {
	op           string
	live, holder float64
	duration     time.Duration
}

type fakeStage struct {
	mu    sync.Mutex
	calls []call
}

func (s *fakeStage) ShowLive(opacity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "show", live: opacity})
}

func (s *fakeStage) BeginRamp(liveTo, placeholderTo float64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "ramp", live: liveTo, holder: placeholderTo, duration: d})
}

func (s *fakeStage) RemovePlaceholder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: "remove"})
}

func (s *fakeStage) ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.calls))
	for i, c := range s.calls {
		ops[i] = c.op
	}
	return ops
}

func (s *fakeStage) count(op string) int {
	n := 0
	for _, o := range s.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func composited(seq uint64) compositor.Result {
	return compositor.Result{Outcome: compositor.Composited, Seq: seq}
}

func skippedResult(seq uint64) compositor.Result {
	return compositor.Result{Outcome: compositor.Skipped, Reason: compositor.ReasonSizeMismatch, Seq: seq}
}

func newController(t *testing.T) (*Controller, *fakeStage, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	stage := &fakeStage{}
	c := New(stage, NewScheduler(mock), DefaultOptions())
	t.Cleanup(c.Stop)
	return c, stage, mock
}

const wait = time.Second
const tick = 5 * time.Millisecond

// waitRamp blocks until the deferred ramp has run and scheduled the
// placeholder removal.
func waitRamp(t *testing.T, c *Controller) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status().RampStarted }, wait, tick)
}

func TestRevealOnFirstComposite(t *testing.T) {
	c, stage, mock := newController(t)
	assert.Equal(t, Pending, c.State())

	c.OnComposite(composited(1))
	assert.Equal(t, Revealed, c.State())

	// live surface shown at zero opacity, ramp not started synchronously
	assert.Equal(t, []string{"show"}, stage.ops())
	stage.mu.Lock()
	assert.Equal(t, 0.0, stage.calls[0].live)
	stage.mu.Unlock()

	mock.Add(0)
	waitRamp(t, c)

	stage.mu.Lock()
	ramp := stage.calls[1]
	stage.mu.Unlock()
	assert.Equal(t, 0.9, ramp.live)
	assert.Equal(t, 0.0, ramp.holder)
	assert.Equal(t, DefaultDuration, ramp.duration)

	mock.Add(DefaultDuration - time.Millisecond)
	assert.Zero(t, stage.count("remove"))

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return stage.count("remove") == 1 }, wait, tick)
	assert.Equal(t, []string{"show", "ramp", "remove"}, stage.ops())

	st := c.Status()
	assert.True(t, st.RampStarted)
	assert.True(t, st.PlaceholderRemoved)
	assert.Equal(t, uint64(1), st.RevealSeq)
}

func TestSkippedNeverReveals(t *testing.T) {
	c, stage, mock := newController(t)

	c.OnComposite(skippedResult(1))
	mock.Add(time.Second)

	assert.Equal(t, Pending, c.State())
	assert.Empty(t, stage.ops())
}

func TestSkippedThenComposited(t *testing.T) {
	c, stage, _ := newController(t)

	c.OnComposite(skippedResult(1))
	assert.Equal(t, Pending, c.State())

	c.OnComposite(composited(2))
	assert.Equal(t, Revealed, c.State())
	assert.Equal(t, uint64(2), c.Status().RevealSeq)
	assert.Equal(t, 1, stage.count("show"))
}

func TestSecondCompositeDuringRamp(t *testing.T) {
	c, stage, mock := newController(t)

	c.OnComposite(composited(1))
	mock.Add(0)
	waitRamp(t, c)

	mock.Add(100 * time.Millisecond)
	c.OnComposite(composited(2))
	mock.Add(0)

	mock.Add(200 * time.Millisecond)
	require.Eventually(t, func() bool { return stage.count("remove") == 1 }, wait, tick)

	mock.Add(time.Second)
	assert.Equal(t, []string{"show", "ramp", "remove"}, stage.ops())
	assert.Equal(t, uint64(1), c.Status().RevealSeq)
}

func TestRevealedIsTerminal(t *testing.T) {
	c, stage, mock := newController(t)

	c.OnComposite(composited(1))
	for seq := uint64(2); seq < 20; seq++ {
		if seq%3 == 0 {
			c.OnComposite(skippedResult(seq))
		} else {
			c.OnComposite(composited(seq))
		}
	}
	mock.Add(0)
	waitRamp(t, c)
	mock.Add(DefaultDuration)
	require.Eventually(t, func() bool { return stage.count("remove") == 1 }, wait, tick)

	assert.Equal(t, Revealed, c.State())
	assert.Equal(t, 1, stage.count("show"))
}

func TestStopCancelsPendingRemoval(t *testing.T) {
	c, stage, mock := newController(t)

	c.OnComposite(composited(1))
	mock.Add(0)
	waitRamp(t, c)

	c.Stop()
	assert.Zero(t, c.sched.Pending())

	mock.Add(time.Second)
	assert.Zero(t, stage.count("remove"))
	assert.Equal(t, Revealed, c.State())

	c.OnComposite(composited(2))
	assert.Equal(t, 1, stage.count("show"))
}

func TestStopBeforeRamp(t *testing.T) {
	c, stage, mock := newController(t)

	c.OnComposite(composited(1))
	c.Stop()
	mock.Add(time.Second)

	assert.Equal(t, []string{"show"}, stage.ops())
}

func TestSubscribe(t *testing.T) {
	c, _, mock := newController(t)
	events := c.Subscribe()

	c.OnComposite(composited(7))
	ev := <-events
	assert.Equal(t, PhaseRevealed, ev.Phase)
	assert.Equal(t, Revealed, ev.State)
	assert.Equal(t, uint64(7), ev.Seq)

	mock.Add(0)
	waitRamp(t, c)
	assert.Equal(t, PhaseRampStarted, (<-events).Phase)

	mock.Add(DefaultDuration)
	assert.Equal(t, PhasePlaceholderRemoved, (<-events).Phase)

	c.Unsubscribe(events)
	_, ok := <-events
	assert.False(t, ok)
}

func TestStopClosesSubscriptions(t *testing.T) {
	c, _, _ := newController(t)
	events := c.Subscribe()
	c.Stop()

	_, ok := <-events
	assert.False(t, ok)

	late := c.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "revealed", Revealed.String())
	text, err := Revealed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "revealed", string(text))
}
