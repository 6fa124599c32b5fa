// Package unlock tracks a selected vault item from locked to unlocked. A
// Machine polls the server on a cadence that tightens near the unlock time,
// serializes extend and delete, and drops any response that belongs to a
// superseded selection.
package unlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/timelock/internal/apiclient"
	"github.com/vbonduro/timelock/internal/clock"
)

// Fetcher reads a single item. *apiclient.Client satisfies it.
type Fetcher interface {
	FetchItem(ctx context.Context, id string) (*apiclient.Item, error)
}

// Mutator changes or removes an item. *apiclient.Client satisfies it.
type Mutator interface {
	Extend(ctx context.Context, id string, minutes int, version int64) (*apiclient.Item, error)
	DeleteItem(ctx context.Context, id string) error
}

type Config struct {
	Poll PollConfig
	// MaxFetchAttempts bounds the tries per fetch. Not-found is never retried.
	MaxFetchAttempts int
	// RetryDelay separates fetch attempts.
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{Poll: DefaultPollConfig(), MaxFetchAttempts: 3, RetryDelay: time.Second}
}

// View is what a renderer needs about the selection. Item is a private copy
// whose Unlocked flag was recomputed from the clock when it was fetched;
// Content is nil whenever Unlocked is false.
type View struct {
	ID                   string
	State                State
	Item                 *apiclient.Item
	IsDeleting           bool
	PendingExtendMinutes int
	// Conflicted is set when an extend lost a race with another change and
	// the item was refreshed. It clears on the next mutation or selection.
	Conflicted bool
	Err        error
	// NextPoll is the armed poll delay, zero when no poll is armed.
	NextPoll time.Duration
}

// Machine owns the selected item. All state lives on one goroutine; timer
// callbacks, network results and API calls reach it as posted actions.
type Machine struct {
	fetcher Fetcher
	mutator Mutator
	clk     clock.Clock
	sched   Scheduler
	cfg     Config
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	actions   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	final     View

	// Loop-owned state below.
	id    string
	gen   uint64
	state State
	item  *apiclient.Item
	err   error

	conflicted      bool
	refetchRequired bool

	fetchSeq    uint64
	fetchCancel context.CancelFunc

	pollSeq   uint64
	pollTimer clock.Timer
	pollDelay time.Duration

	mutating      bool
	deleting      bool
	pendingExtend int

	subs    map[int]chan View
	nextSub int
}

func NewMachine(fetcher Fetcher, mutator Mutator, clk clock.Clock, cfg Config, logger *slog.Logger) *Machine {
	if cfg.MaxFetchAttempts < 1 {
		cfg.MaxFetchAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		fetcher: fetcher,
		mutator: mutator,
		clk:     clk,
		sched:   NewScheduler(cfg.Poll),
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		actions: make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		subs:    make(map[int]chan View),
	}
	go m.run()
	return m
}

func (m *Machine) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.actions:
			fn()
		case <-m.quit:
			m.shutdown()
			return
		}
	}
}

// post hands fn to the loop. It reports false once the machine has closed.
func (m *Machine) post(fn func()) bool {
	select {
	case m.actions <- fn:
		return true
	case <-m.done:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (m *Machine) call(fn func()) bool {
	finished := make(chan struct{})
	if !m.post(func() { fn(); close(finished) }) {
		return false
	}
	<-finished
	return true
}

// Close stops all timers, aborts in-flight requests and closes subscriber
// channels. It is safe to call more than once.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *Machine) shutdown() {
	m.cancel()
	m.stopPoll()
	m.cancelFetch()
	m.final = m.view()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.logger.Debug("unlock machine closed", "item_id", m.id)
}

// Select switches to id, discarding every timer and request of the previous
// selection. An empty id returns to Idle. Selecting the current id again does
// nothing.
func (m *Machine) Select(id string) {
	m.call(func() {
		if id == m.id && m.state != Idle {
			return
		}
		m.gen++
		m.stopPoll()
		m.cancelFetch()
		m.id = id
		m.item = nil
		m.err = nil
		m.conflicted = false
		m.refetchRequired = false
		m.mutating = false
		m.deleting = false
		m.pendingExtend = 0

		if id == "" {
			m.state = Idle
			m.publish()
			return
		}
		m.logger.Debug("item selected", "item_id", id)
		m.state = Loading
		m.startFetch()
		m.publish()
	})
}

// Refetch fetches the selected item now, replacing any armed poll. It does
// nothing when idle or after the item was found missing.
func (m *Machine) Refetch() {
	m.call(func() {
		if m.state == Idle || m.state == NotFound {
			return
		}
		if m.item == nil {
			m.state = Loading
		}
		m.startFetch()
		m.publish()
	})
}

// Snapshot returns the current view.
func (m *Machine) Snapshot() View {
	var v View
	if !m.call(func() { v = m.view() }) {
		return m.final
	}
	return v
}

// Subscribe returns a channel that always holds the latest view; stale views
// are replaced rather than queued. The current view is delivered first. The
// channel closes on unsubscribe or Close.
func (m *Machine) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	var id int
	if !m.call(func() {
		id = m.nextSub
		m.nextSub++
		m.subs[id] = ch
		ch <- m.view()
	}) {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.post(func() {
				if sub, ok := m.subs[id]; ok {
					close(sub)
					delete(m.subs, id)
				}
			})
		})
	}
}

// Extend asks the server to push the unlock time later by minutes. The view
// is not changed optimistically; it follows the server's answer. On
// ErrConflict exactly one refetch is issued and further mutations fail with
// ErrRefetchRequired until it lands.
func (m *Machine) Extend(ctx context.Context, minutes int) (*apiclient.Item, error) {
	if minutes <= 0 {
		return nil, &apiclient.ValidationError{Field: "minutes", Reason: "must be positive"}
	}

	var (
		id      string
		gen     uint64
		version int64
		err     error
	)
	if !m.call(func() {
		if err = m.canMutate(true); err != nil {
			return
		}
		id, gen, version = m.id, m.gen, m.item.Version
		m.mutating = true
		m.pendingExtend = minutes
		m.conflicted = false
		m.publish()
	}) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}

	mctx, cancel := m.mutationContext(ctx)
	defer cancel()
	item, err := m.mutator.Extend(mctx, id, minutes, version)

	m.call(func() { m.onExtended(gen, item, err) })
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// Delete removes the selected item. An item that is already gone counts as
// deleted.
func (m *Machine) Delete(ctx context.Context) error {
	var (
		id      string
		gen     uint64
		err     error
		already bool
	)
	if !m.call(func() {
		if m.state == NotFound {
			already = true
			return
		}
		if err = m.canMutate(false); err != nil {
			return
		}
		id, gen = m.id, m.gen
		m.mutating = true
		m.deleting = true
		m.conflicted = false
		m.publish()
	}) {
		return ErrClosed
	}
	if already || err != nil {
		return err
	}

	mctx, cancel := m.mutationContext(ctx)
	defer cancel()
	err = m.mutator.DeleteItem(mctx, id)

	m.call(func() { m.onDeleted(gen, err) })
	return err
}

// canMutate checks the single-mutation and post-conflict rules. needItem is
// set for operations that need the item's version.
func (m *Machine) canMutate(needItem bool) error {
	switch {
	case m.state == Idle:
		return ErrNoSelection
	case m.state == NotFound:
		return apiclient.ErrNotFound
	case m.mutating:
		return ErrBusy
	case m.refetchRequired:
		return ErrRefetchRequired
	case needItem && m.item == nil:
		return ErrNotReady
	}
	return nil
}

// mutationContext ends when either the caller's context or the machine does.
// Selection changes do not cancel a mutation; its result is simply not
// applied.
func (m *Machine) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	mctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return mctx, func() {
		stop()
		cancel()
	}
}

func (m *Machine) onExtended(gen uint64, item *apiclient.Item, err error) {
	if gen != m.gen {
		m.logger.Debug("dropping extend result for previous selection")
		return
	}
	m.mutating = false
	m.pendingExtend = 0

	switch {
	case err == nil:
		// Any fetch already in flight predates the extend.
		m.cancelFetch()
		m.apply(item)
		m.logger.Info("item extended", "item_id", m.id, "unlock_at", item.UnlockAt, "state", m.state)
	case errors.Is(err, apiclient.ErrConflict):
		m.logger.Info("extend conflicted, refetching", "item_id", m.id)
		m.conflicted = true
		m.refetchRequired = true
		m.startFetch()
	case errors.Is(err, apiclient.ErrNotFound):
		m.markNotFound(err)
	default:
		m.logger.Warn("extend failed", "item_id", m.id, "error", err)
	}
	m.publish()
}

func (m *Machine) onDeleted(gen uint64, err error) {
	if gen != m.gen {
		m.logger.Debug("dropping delete result for previous selection")
		return
	}
	m.mutating = false
	m.deleting = false

	if err != nil {
		m.logger.Warn("delete failed", "item_id", m.id, "error", err)
		m.publish()
		return
	}
	m.logger.Info("item deleted", "item_id", m.id)
	m.markNotFound(nil)
	m.publish()
}

func (m *Machine) markNotFound(err error) {
	m.stopPoll()
	m.cancelFetch()
	m.state = NotFound
	m.item = nil
	m.err = err
	m.refetchRequired = false
}

// startFetch replaces any in-flight fetch and armed poll with a new fetch of
// the selected item.
func (m *Machine) startFetch() {
	m.stopPoll()
	m.cancelFetch()

	ctx, cancel := context.WithCancel(m.ctx)
	m.fetchSeq++
	m.fetchCancel = cancel
	id, gen, seq := m.id, m.gen, m.fetchSeq

	go func() {
		item, err := m.fetchWithRetry(ctx, id)
		m.post(func() { m.onFetched(gen, seq, item, err) })
	}()
}

func (m *Machine) cancelFetch() {
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
	}
	m.fetchSeq++
}

func (m *Machine) fetchWithRetry(ctx context.Context, id string) (*apiclient.Item, error) {
	for attempt := 1; ; attempt++ {
		item, err := m.fetcher.FetchItem(ctx, id)
		if err == nil || errors.Is(err, apiclient.ErrNotFound) || ctx.Err() != nil || attempt >= m.cfg.MaxFetchAttempts {
			return item, err
		}
		m.logger.Debug("fetch failed, retrying", "item_id", id, "attempt", attempt, "error", err)
		if err := m.sleep(ctx, m.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	fired := make(chan struct{})
	t := m.clk.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// onFetched applies a fetch result unless it belongs to an older selection
// or was superseded by a later fetch.
func (m *Machine) onFetched(gen, seq uint64, item *apiclient.Item, err error) {
	if gen != m.gen || seq != m.fetchSeq {
		m.logger.Debug("dropping stale fetch result", "item_id", m.id)
		return
	}
	m.fetchCancel()
	m.fetchCancel = nil

	switch {
	case err == nil:
		if m.item != nil && item.Version < m.item.Version {
			m.logger.Debug("ignoring older item version", "item_id", m.id, "have", m.item.Version, "got", item.Version)
			m.schedulePoll()
			break
		}
		m.refetchRequired = false
		m.apply(item)
	case errors.Is(err, apiclient.ErrNotFound):
		m.logger.Info("item not found", "item_id", m.id)
		m.markNotFound(err)
	default:
		m.logger.Warn("fetch failed", "item_id", m.id, "error", err)
		m.state = Error
		m.err = err
		m.schedulePoll()
	}
	m.publish()
}

// apply stores a copy of item with its unlock flag recomputed from the
// clock, classifies the state and re-arms polling.
func (m *Machine) apply(item *apiclient.Item) {
	now := m.clk.Now()
	derived := item.Clone()
	derived.Unlocked = derived.UnlockedAt(now)
	if !derived.Unlocked {
		derived.Content = nil
	}

	m.item = derived
	m.err = nil
	switch {
	case !derived.Unlocked:
		m.state = Locked
	case derived.Content == nil:
		m.state = Unlocking
	default:
		m.state = Unlocked
	}
	m.schedulePoll()
}

// schedulePoll arms the single poll timer, replacing any armed one.
func (m *Machine) schedulePoll() {
	m.stopPoll()
	delay, ok := m.sched.Next(m.state, m.item, m.clk.Now())
	if !ok {
		return
	}

	gen, seq := m.gen, m.pollSeq
	m.pollDelay = delay
	m.pollTimer = m.clk.AfterFunc(delay, func() {
		m.post(func() { m.onPoll(gen, seq) })
	})
}

func (m *Machine) stopPoll() {
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	m.pollSeq++
	m.pollDelay = 0
}

func (m *Machine) onPoll(gen, seq uint64) {
	if gen != m.gen || seq != m.pollSeq {
		return
	}
	m.pollTimer = nil
	m.startFetch()
	m.publish()
}

func (m *Machine) view() View {
	return View{
		ID:                   m.id,
		State:                m.state,
		Item:                 m.item.Clone(),
		IsDeleting:           m.deleting,
		PendingExtendMinutes: m.pendingExtend,
		Conflicted:           m.conflicted,
		Err:                  m.err,
		NextPoll:             m.pollDelay,
	}
}

// publish replaces whatever view each subscriber has not read yet.
func (m *Machine) publish() {
	if len(m.subs) == 0 {
		return
	}
	v := m.view()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
