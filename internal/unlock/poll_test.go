package unlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vbonduro/timelock/internal/apiclient"
)

var epoch = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func lockedItem(unlockIn time.Duration) *apiclient.Item {
	return &apiclient.Item{
		ID:       "item-1",
		Type:     apiclient.ItemTypeText,
		Title:    "Letter",
		UnlockAt: epoch.Add(unlockIn),
		Version:  1,
	}
}

func unlockedItem(content string) *apiclient.Item {
	item := lockedItem(-time.Minute)
	item.Unlocked = true
	item.Content = &content
	return item
}

func TestSchedulerNext(t *testing.T) {
	sched := NewScheduler(DefaultPollConfig())

	tests := []struct {
		name     string
		state    State
		item     *apiclient.Item
		want     time.Duration
		wantPoll bool
	}{
		{"30s before unlock", Locked, lockedItem(30 * time.Second), 5 * time.Second, true},
		{"45s before unlock", Locked, lockedItem(45 * time.Second), 5 * time.Second, true},
		{"exactly one minute", Locked, lockedItem(time.Minute), 5 * time.Second, true},
		{"just over one minute", Locked, lockedItem(time.Minute + time.Millisecond), time.Minute, true},
		{"two minutes", Locked, lockedItem(2 * time.Minute), time.Minute, true},
		{"ten minutes", Locked, lockedItem(10 * time.Minute), time.Minute, true},
		{"no data yet", Loading, nil, time.Second, true},
		{"failed without data", Error, nil, time.Second, true},
		{"failed with data keeps cadence", Error, lockedItem(10 * time.Minute), time.Minute, true},
		{"unlocked with content", Unlocked, unlockedItem("hi"), 0, false},
		{"failed refresh of unlocked item", Error, unlockedItem("hi"), 5 * time.Second, true},
		{"unlock time passed without content", Unlocking, lockedItem(-time.Second), 5 * time.Second, true},
		{"idle", Idle, nil, 0, false},
		{"not found", NotFound, lockedItem(time.Hour), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sched.Next(tt.state, tt.item, epoch)
			assert.Equal(t, tt.wantPoll, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchedulerCustomCadence(t *testing.T) {
	sched := NewScheduler(PollConfig{Imminent: time.Second, ImminentWindow: 10 * time.Second})

	got, ok := sched.Next(Locked, lockedItem(20*time.Second), epoch)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, got, "unset fields fall back to defaults")

	got, ok = sched.Next(Locked, lockedItem(10*time.Second), epoch)
	assert.True(t, ok)
	assert.Equal(t, time.Second, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unlocking", Unlocking.String())
	assert.Equal(t, "not_found", NotFound.String())
	assert.Equal(t, "unknown", State(99).String())
}
