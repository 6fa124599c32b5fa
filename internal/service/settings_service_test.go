package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/timelock/internal/events"
)

func TestSettingsUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch := env.subscribe(t, "alice")

	updated, err := env.settings.Update(ctx, "alice", "laptop", map[string]string{"theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "laptop", updated.UpdatedBy)

	ev := nextEvent(t, ch)
	assert.Equal(t, events.SettingsUpdated, ev.Type)
	assert.Equal(t, "laptop", ev.Origin)
	assert.Equal(t, map[string]string{"theme": "dark"}, ev.Settings)

	got, err := env.settings.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Values["theme"])
}

func TestSettingsUpdate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.settings.Update(ctx, "alice", "d", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.settings.Update(ctx, "alice", "d", map[string]string{"": "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.settings.Update(ctx, "alice", "d", map[string]string{"k": strings.Repeat("v", MaxSettingValueLength+1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
