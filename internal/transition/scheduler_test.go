package transition

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAfter(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var ran atomic.Int32
	a := s.After(50*time.Millisecond, func() { ran.Add(1) })
	assert.Equal(t, 1, s.Pending())

	mock.Add(49 * time.Millisecond)
	assert.Zero(t, ran.Load())

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, a.Done())
	assert.Zero(t, s.Pending())
	assert.False(t, a.Cancel(), "already ran")
}

func TestSchedulerDeferIsNotSynchronous(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var ran atomic.Bool
	s.Defer(func() { ran.Store(true) })
	assert.False(t, ran.Load())

	mock.Add(0)
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestSchedulerCancel(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var ran atomic.Bool
	a := s.After(time.Millisecond, func() { ran.Store(true) })
	assert.True(t, a.Cancel())
	assert.False(t, a.Cancel())
	assert.Zero(t, s.Pending())

	mock.Add(time.Second)
	assert.False(t, ran.Load())
	assert.False(t, a.Done())
}

func TestSchedulerStop(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	var ran atomic.Int32
	for i := 1; i <= 3; i++ {
		s.After(time.Duration(i)*time.Millisecond, func() { ran.Add(1) })
	}
	s.Stop()
	assert.Zero(t, s.Pending())

	late := s.After(0, func() { ran.Add(1) })
	assert.False(t, late.Cancel())

	mock.Add(time.Second)
	assert.Zero(t, ran.Load())
}

func TestSchedulerWallClock(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	done := make(chan struct{})
	s.After(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("action did not run")
	}
}
