// Package clock is the single time source for the vault. Components take a
// Clock instead of calling time.Now so tests can freeze time and step it
// across unlock boundaries.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock supplies the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Mock is a settable clock. While mocked, timers fire only when Set or
// Advance moves the clock past their deadline, synchronously on the caller's
// goroutine. After Reset it behaves like the wall clock.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	mocked bool
	seq    uint64
	timers map[uint64]*mockTimer
}

type mockTimer struct {
	m        *Mock
	id       uint64
	deadline time.Time
	f        func()
	real     *time.Timer
}

// NewMock returns a Mock frozen at t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t, mocked: true, timers: make(map[uint64]*mockTimer)}
}

// Now returns the mocked time, or the wall time after Reset.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mocked {
		return time.Now()
	}
	return m.now
}

// IsMocked reports whether the clock is frozen.
func (m *Mock) IsMocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mocked
}

// AfterFunc schedules f to run once the clock reaches Now()+d.
func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	m.seq++
	t := &mockTimer{m: m, id: m.seq, f: f}
	if !m.mocked {
		t.real = time.AfterFunc(d, f)
		m.mu.Unlock()
		return t
	}
	t.deadline = m.now.Add(d)
	m.timers[t.id] = t
	m.mu.Unlock()

	if d <= 0 {
		m.fireDue()
	}
	return t
}

// Set freezes the clock at t and fires every timer whose deadline is not
// after t. Moving backwards is allowed and fires nothing.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mocked = true
	m.mu.Unlock()
	m.fireDue()
}

// Advance moves the mocked clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	base := m.now
	if !m.mocked {
		base = time.Now()
	}
	m.mu.Unlock()
	m.Set(base.Add(d))
}

// Reset returns the clock to wall time. Pending timers are moved onto real
// timers with whatever delay they had left.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mocked {
		return
	}
	for id, t := range m.timers {
		t.real = time.AfterFunc(t.deadline.Sub(m.now), t.f)
		delete(m.timers, id)
	}
	m.mocked = false
}

// Pending returns the number of armed fake timers.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Mock) fireDue() {
	m.mu.Lock()
	var due []*mockTimer
	for id, t := range m.timers {
		if !t.deadline.After(m.now) {
			due = append(due, t)
			delete(m.timers, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.f()
	}
}

func (t *mockTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.real != nil {
		return t.real.Stop()
	}
	if _, ok := t.m.timers[t.id]; !ok {
		return false
	}
	delete(t.m.timers, t.id)
	return true
}
