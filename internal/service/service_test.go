package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/crypto"
	"github.com/vbonduro/timelock/internal/db"
	"github.com/vbonduro/timelock/internal/events"
	"github.com/vbonduro/timelock/internal/imagestore/local"
	"github.com/vbonduro/timelock/internal/store"
)

var epoch = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	vault    *VaultService
	settings *SettingsService
	notifier *UnlockNotifier
	items    *store.ItemStore
	hub      *events.MemoryHub
	clk      *clock.Mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	images, err := local.NewLocalImageStore(t.TempDir())
	require.NoError(t, err)

	clk := clock.NewMock(epoch)
	logger := discardLogger()
	hub := events.NewMemoryHub(logger)
	items := store.NewItemStore(d)
	sealer := crypto.NewSealer(crypto.NewMockEncryptor(), 2)

	return &testEnv{
		vault:    NewVaultService(items, store.NewShareStore(d), images, sealer, hub, clk, logger),
		settings: NewSettingsService(store.NewSettingsStore(d), hub, clk, logger),
		notifier: NewUnlockNotifier(items, hub, clk, logger),
		items:    items,
		hub:      hub,
		clk:      clk,
	}
}

func (e *testEnv) subscribe(t *testing.T, owner string) <-chan events.Event {
	t.Helper()
	ch, cancel, err := e.hub.Subscribe(context.Background(), owner)
	require.NoError(t, err)
	t.Cleanup(cancel)
	return ch
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return events.Event{}
	}
}
