package unlock

import (
	"time"

	"github.com/vbonduro/timelock/internal/apiclient"
)

// State is the lifecycle position of the selected item.
type State int

const (
	// Idle means no item is selected.
	Idle State = iota
	// Loading means a fetch is in flight and there is no data yet.
	Loading
	Locked
	// Unlocking means the unlock time has passed but no content has arrived
	// yet. It is shown as locked and polled at the imminent cadence.
	Unlocking
	Unlocked
	// NotFound is terminal for the selection: polling stops for good.
	NotFound
	// Error means the last fetch failed after its retries. Polling continues.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	case NotFound:
		return "not_found"
	case Error:
		return "error"
	}
	return "unknown"
}

// PollConfig holds the poll cadence. Zero fields take the defaults.
type PollConfig struct {
	// NoData applies while there is nothing to show yet.
	NoData time.Duration `yaml:"no_data"`
	// Imminent applies inside ImminentWindow of the unlock time and while
	// waiting for content after it.
	Imminent       time.Duration `yaml:"imminent"`
	Distant        time.Duration `yaml:"distant"`
	ImminentWindow time.Duration `yaml:"imminent_window"`
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		NoData:         time.Second,
		Imminent:       5 * time.Second,
		Distant:        60 * time.Second,
		ImminentWindow: 60 * time.Second,
	}
}

func (c PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if c.NoData <= 0 {
		c.NoData = d.NoData
	}
	if c.Imminent <= 0 {
		c.Imminent = d.Imminent
	}
	if c.Distant <= 0 {
		c.Distant = d.Distant
	}
	if c.ImminentWindow <= 0 {
		c.ImminentWindow = d.ImminentWindow
	}
	return c
}

// Scheduler decides when the selected item is fetched next. Intervals shrink
// as the unlock time approaches so the locked view is never more than
// Imminent out of date around the boundary.
type Scheduler struct {
	cfg PollConfig
}

func NewScheduler(cfg PollConfig) Scheduler {
	return Scheduler{cfg: cfg.withDefaults()}
}

// Next returns the delay before the next fetch, or false to stop polling.
// Only Idle, NotFound and a healthy Unlocked item stop; a failed fetch is
// always retried.
func (s Scheduler) Next(state State, item *apiclient.Item, now time.Time) (time.Duration, bool) {
	switch state {
	case Idle, NotFound:
		return 0, false
	}
	if item == nil {
		return s.cfg.NoData, true
	}
	if item.UnlockedAt(now) {
		if item.Content != nil && state != Error {
			return 0, false
		}
		return s.cfg.Imminent, true
	}
	if item.UnlockAt.Sub(now) <= s.cfg.ImminentWindow {
		return s.cfg.Imminent, true
	}
	return s.cfg.Distant, true
}
