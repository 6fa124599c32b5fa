// Package settingsync keeps a device's settings in step with the user's other
// devices. Local changes are coalesced and pushed after a quiet period;
// remote changes arrive over the event stream and are applied unless this
// device sent them.
package settingsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/vbonduro/timelock/internal/apiclient"
	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/events"
)

var (
	ErrStarted = errors.New("connection already started")
	ErrClosed  = errors.New("connection closed")
)

// Transport is the server side of the connection. *apiclient.Client
// satisfies it.
type Transport interface {
	PushSettings(ctx context.Context, values map[string]string) (*apiclient.Settings, error)
	StreamEvents(ctx context.Context) (<-chan apiclient.StreamMessage, error)
}

type Options struct {
	// DeviceID identifies this device as the origin of its pushes.
	DeviceID string
	// OnSettings receives settings changed on another device.
	OnSettings func(values map[string]string, version int64)
	// OnItem receives item events, typically to refetch the item.
	OnItem func(ev events.Event)
	// OnResync runs after the stream reconnects, since events may have been
	// missed while it was down.
	OnResync func()

	Debounce time.Duration
	// ReconnectDelay is the wait before reopening the stream and before
	// retrying a failed push.
	ReconnectDelay time.Duration
}

const (
	defaultDebounce       = 500 * time.Millisecond
	defaultReconnectDelay = 2 * time.Second
)

// ShouldApply reports whether a settings event came from another device.
// Events without an origin were produced by the server and always apply.
func ShouldApply(localDevice string, ev events.Event) bool {
	if ev.Type != events.SettingsUpdated {
		return false
	}
	return ev.Origin == "" || ev.Origin != localDevice
}

// Conn is one device's settings connection. Build it once at startup and
// Close it on shutdown.
type Conn struct {
	transport Transport
	clk       clock.Clock
	opts      Options
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	pending map[string]string
	timer   clock.Timer

	// pushMu keeps pushes in the order their changes were made.
	pushMu sync.Mutex
}

func NewConn(transport Transport, clk clock.Clock, opts Options, logger *slog.Logger) *Conn {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		transport: transport,
		clk:       clk,
		opts:      opts,
		logger:    logger.With("device_id", opts.DeviceID),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		pending:   make(map[string]string),
	}
}

// Start opens the event stream. The stream runs until ctx ends or Close is
// called, reconnecting after failures.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrStarted
	}
	c.started = true

	stop := context.AfterFunc(ctx, c.cancel)
	go func() {
		defer close(c.done)
		defer stop()
		c.stream()
	}()
	return nil
}

// Set records a local change and restarts the debounce timer. An empty
// value deletes the key.
func (c *Conn) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending[key] = value
	c.armLocked(c.opts.Debounce)
}

// armLocked replaces the push timer. c.mu must be held.
func (c *Conn) armLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clk.AfterFunc(d, func() {
		if err := c.Flush(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("failed to push settings", "error", err)
		}
	})
}

// Pending returns a copy of the changes not yet pushed.
func (c *Conn) Pending() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.pending)
}

// Flush pushes pending changes now. On failure the changes stay pending,
// except keys that were set again in the meantime, and another push is
// scheduled after ReconnectDelay.
func (c *Conn) Flush(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.pending
	c.pending = make(map[string]string)
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	settings, err := c.transport.PushSettings(ctx, batch)
	if err != nil {
		c.mu.Lock()
		for k, v := range batch {
			if _, newer := c.pending[k]; !newer {
				c.pending[k] = v
			}
		}
		if !c.closed && c.timer == nil {
			c.armLocked(c.opts.ReconnectDelay)
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to push settings: %w", err)
	}

	c.logger.Debug("settings pushed", "keys", len(batch), "version", settings.Version)
	return nil
}

// Close stops the stream and the debounce timer. Unflushed changes are
// dropped; call Flush first to keep them.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if started {
		<-c.done
	}
}

func (c *Conn) stream() {
	connected := false
	for {
		msgs, err := c.transport.StreamEvents(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("failed to open event stream", "error", err)
		} else {
			if connected && c.opts.OnResync != nil {
				c.opts.OnResync()
			}
			connected = true
			c.logger.Debug("event stream connected")
			c.consume(msgs)
		}

		if !c.sleep(c.opts.ReconnectDelay) {
			return
		}
	}
}

func (c *Conn) consume(msgs <-chan apiclient.StreamMessage) {
	for msg := range msgs {
		if msg.Err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("event stream ended", "error", msg.Err)
			}
			continue
		}
		c.dispatch(*msg.Event)
	}
}

func (c *Conn) dispatch(ev events.Event) {
	switch {
	case ev.Type == events.SettingsUpdated:
		if !ShouldApply(c.opts.DeviceID, ev) {
			c.logger.Debug("ignoring own settings echo", "version", ev.Version)
			return
		}
		if c.opts.OnSettings != nil {
			c.opts.OnSettings(maps.Clone(ev.Settings), ev.Version)
		}
	case ev.Type.IsItem():
		if c.opts.OnItem != nil {
			c.opts.OnItem(ev)
		}
	default:
		c.logger.Debug("ignoring unknown event", "type", ev.Type)
	}
}

// sleep waits d on the clock and reports false if the connection closed
// first.
func (c *Conn) sleep(d time.Duration) bool {
	fired := make(chan struct{})
	t := c.clk.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return true
	case <-c.ctx.Done():
		t.Stop()
		return false
	}
}
