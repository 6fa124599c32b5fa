package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/timelock/internal/domain"
	"github.com/vbonduro/timelock/internal/events"
)

func TestCreateText_ContentHiddenUntilUnlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateText(ctx, "alice", "laptop", CreateTextInput{
		Title:    "Letter",
		Content:  "# Dear future me",
		UnlockIn: time.Hour,
	})
	require.NoError(t, err)
	assert.False(t, created.Unlocked)
	assert.Nil(t, created.Content)
	assert.Equal(t, epoch.Add(time.Hour), created.UnlockAt)
	assert.Equal(t, 2, created.LayerCount)
	assert.Equal(t, int64(1), created.Version)
	assert.NotContains(t, created.Ciphertext, "Dear future me")

	env.clk.Advance(time.Hour)

	got, err := env.vault.Get(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.True(t, got.Unlocked)
	require.NotNil(t, got.Content)
	assert.Equal(t, "# Dear future me", *got.Content)
}

func TestCreateText_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := map[string]CreateTextInput{
		"missing title":   {Content: "x", UnlockIn: time.Hour},
		"missing content": {Title: "t", UnlockIn: time.Hour},
		"no unlock":       {Title: "t", Content: "x"},
		"past unlock":     {Title: "t", Content: "x", UnlockAt: epoch.Add(-time.Minute)},
		"unlock now":      {Title: "t", Content: "x", UnlockAt: epoch},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.vault.CreateText(ctx, "alice", "", in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreateText_PublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	ch := env.subscribe(t, "alice")

	created, err := env.vault.CreateText(context.Background(), "alice", "laptop", CreateTextInput{
		Title: "Letter", Content: "hi", UnlockIn: time.Minute,
	})
	require.NoError(t, err)

	ev := nextEvent(t, ch)
	assert.Equal(t, events.ItemCreated, ev.Type)
	assert.Equal(t, created.ID, ev.ItemID)
	assert.Equal(t, "laptop", ev.Origin)
}

func TestCreateImage_DataURLAfterUnlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	png := []byte("\x89PNG\r\n\x1a\nfake")

	created, err := env.vault.CreateImage(ctx, "alice", "", CreateImageInput{
		Title:    "Photo",
		MimeType: "image/png",
		Data:     png,
		UnlockAt: epoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemTypeImage, created.Type)
	assert.NotEmpty(t, created.BlobKey)
	assert.Nil(t, created.Content)

	env.clk.Advance(time.Minute)

	got, err := env.vault.Get(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Content)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), *got.Content)
}

func TestCreateImage_RejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.vault.CreateImage(context.Background(), "alice", "", CreateImageInput{
		Title: "Doc", MimeType: "application/pdf", Data: []byte("%PDF"), UnlockIn: time.Hour,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGet_OtherOwnerIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "t", Content: "x", UnlockIn: time.Hour})
	require.NoError(t, err)

	_, err = env.vault.Get(ctx, "bob", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_NeverIncludesContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "Soon", Content: "x", UnlockIn: time.Minute})
	require.NoError(t, err)
	_, err = env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "Later", Content: "y", UnlockIn: time.Hour})
	require.NoError(t, err)

	env.clk.Advance(2 * time.Minute)

	list, err := env.vault.List(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Unlocked)
	assert.False(t, list[1].Unlocked)
	for _, v := range list {
		assert.Nil(t, v.Content)
	}
}

func TestExtend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch := env.subscribe(t, "alice")

	created, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "t", Content: "x", UnlockIn: time.Minute})
	require.NoError(t, err)
	nextEvent(t, ch)

	extended, err := env.vault.Extend(ctx, "alice", "phone", created.ID, 5, created.Version)
	require.NoError(t, err)
	assert.Equal(t, created.UnlockAt.Add(5*time.Minute), extended.UnlockAt)
	assert.Equal(t, created.Version+1, extended.Version)

	ev := nextEvent(t, ch)
	assert.Equal(t, events.ItemExtended, ev.Type)
	assert.Equal(t, "phone", ev.Origin)
	assert.Equal(t, extended.Version, ev.Version)
}

func TestExtend_UnlockedItemRelocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "t", Content: "x", UnlockIn: time.Minute})
	require.NoError(t, err)
	env.clk.Advance(2 * time.Minute)

	extended, err := env.vault.Extend(ctx, "alice", "", created.ID, 10, 0)
	require.NoError(t, err)
	assert.False(t, extended.Unlocked)
	assert.Nil(t, extended.Content)
}

func TestExtend_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "t", Content: "x", UnlockIn: time.Minute})
	require.NoError(t, err)

	_, err = env.vault.Extend(ctx, "alice", "", created.ID, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.vault.Extend(ctx, "alice", "", created.ID, MaxExtendMinutes+1, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.vault.Extend(ctx, "alice", "", "missing", 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.vault.Extend(ctx, "alice", "", created.ID, 1, created.Version)
	require.NoError(t, err)
	_, err = env.vault.Extend(ctx, "alice", "", created.ID, 1, created.Version)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateImage(ctx, "alice", "", CreateImageInput{
		Title: "Photo", MimeType: "image/jpeg", Data: []byte("jpeg"), UnlockIn: time.Hour,
	})
	require.NoError(t, err)
	share, err := env.vault.Share(ctx, "alice", created.ID)
	require.NoError(t, err)

	ch := env.subscribe(t, "alice")
	require.NoError(t, env.vault.Delete(ctx, "alice", "phone", created.ID))

	ev := nextEvent(t, ch)
	assert.Equal(t, events.ItemDeleted, ev.Type)

	_, err = env.vault.Get(ctx, "alice", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.vault.GetShared(ctx, share.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, env.vault.Delete(ctx, "alice", "", created.ID), ErrNotFound)
}

func TestShare(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{Title: "t", Content: "shared secret", UnlockIn: time.Minute})
	require.NoError(t, err)

	share, err := env.vault.Share(ctx, "alice", created.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, share.Token)

	locked, err := env.vault.GetShared(ctx, share.Token)
	require.NoError(t, err)
	assert.Nil(t, locked.Content)

	env.clk.Advance(time.Minute)
	open, err := env.vault.GetShared(ctx, share.Token)
	require.NoError(t, err)
	require.NotNil(t, open.Content)
	assert.Equal(t, "shared secret", *open.Content)

	_, err = env.vault.Share(ctx, "bob", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.vault.GetShared(ctx, "bogus")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenderHTML(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.vault.CreateText(ctx, "alice", "", CreateTextInput{
		Title: "t", Content: "# Hello\n\n<script>alert(1)</script>", UnlockIn: time.Minute,
	})
	require.NoError(t, err)

	_, err = env.vault.RenderHTML(created)
	assert.ErrorIs(t, err, ErrLocked)

	env.clk.Advance(time.Minute)
	open, err := env.vault.Get(ctx, "alice", created.ID)
	require.NoError(t, err)

	out, err := env.vault.RenderHTML(open)
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>Hello</h1>")
	assert.NotContains(t, out, "<script>")
}
