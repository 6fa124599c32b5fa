package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMockNowIsFrozen(t *testing.T) {
	m := NewMock(epoch)
	assert.True(t, m.IsMocked())
	assert.Equal(t, epoch, m.Now())
	assert.Equal(t, epoch, m.Now())
}

func TestMockSetAndAdvance(t *testing.T) {
	m := NewMock(epoch)
	m.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), m.Now())

	later := epoch.Add(time.Hour)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}

func TestMockTimerFiresAtDeadline(t *testing.T) {
	m := NewMock(epoch)
	var fired atomic.Int32
	m.AfterFunc(5*time.Second, func() { fired.Add(1) })

	m.Advance(4999 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	m.Advance(time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())

	m.Advance(time.Hour)
	assert.Equal(t, int32(1), fired.Load(), "timers are one-shot")
}

func TestMockTimersFireInDeadlineOrder(t *testing.T) {
	m := NewMock(epoch)
	var order []int
	m.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	m.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	m.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	m.Advance(10 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMockTimerStop(t *testing.T) {
	m := NewMock(epoch)
	var fired atomic.Int32
	tm := m.AfterFunc(time.Second, func() { fired.Add(1) })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	assert.Equal(t, 0, m.Pending())

	m.Advance(time.Minute)
	assert.Equal(t, int32(0), fired.Load())
}

func TestMockZeroDelayFiresImmediately(t *testing.T) {
	m := NewMock(epoch)
	var fired atomic.Int32
	m.AfterFunc(0, func() { fired.Add(1) })
	assert.Equal(t, int32(1), fired.Load())
}

func TestMockResetMovesTimersToWallClock(t *testing.T) {
	m := NewMock(epoch)
	done := make(chan struct{})
	m.AfterFunc(10*time.Millisecond, func() { close(done) })

	m.Reset()
	assert.False(t, m.IsMocked())
	assert.WithinDuration(t, time.Now(), m.Now(), time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "timer did not fire after Reset")
	}
}

func TestSystemClock(t *testing.T) {
	c := System()
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)

	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "system timer did not fire")
	}
}
