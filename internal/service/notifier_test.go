package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/timelock/internal/events"
)

func TestUnlockNotifierScan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch := env.subscribe(t, "alice")

	soon, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "soon", Content: "x", UnlockIn: time.Minute})
	require.NoError(t, err)
	_, err = env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "later", Content: "y", UnlockIn: time.Hour})
	require.NoError(t, err)
	nextEvent(t, ch)
	nextEvent(t, ch)

	n, err := env.notifier.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clk.Advance(time.Minute)
	n, err = env.notifier.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := nextEvent(t, ch)
	assert.Equal(t, events.ItemUnlocked, ev.Type)
	assert.Equal(t, soon.ID, ev.ItemID)

	// The same unlock is never announced twice.
	n, err = env.notifier.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnlockNotifierRun(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := env.subscribe(t, "alice")

	_, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "soon", Content: "x", UnlockIn: 30 * time.Second})
	require.NoError(t, err)
	nextEvent(t, ch)

	done := make(chan error, 1)
	go func() { done <- env.notifier.Run(ctx, 10*time.Second) }()

	require.Eventually(t, func() bool { return env.clk.Pending() == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		env.clk.Advance(10 * time.Second)
		require.Eventually(t, func() bool { return env.clk.Pending() == 1 }, time.Second, time.Millisecond)
	}

	ev := nextEvent(t, ch)
	assert.Equal(t, events.ItemUnlocked, ev.Type)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
