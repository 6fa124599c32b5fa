package unlock

import "errors"

var (
	// ErrBusy rejects a mutation while another one for the item is in flight.
	ErrBusy = errors.New("another operation is in progress for this item")
	// ErrRefetchRequired rejects mutations after a conflict until the forced
	// refetch has landed.
	ErrRefetchRequired = errors.New("item changed elsewhere; waiting for fresh data")
	// ErrNotReady rejects an extend before any item data has loaded.
	ErrNotReady    = errors.New("item data has not loaded yet")
	ErrNoSelection = errors.New("no item selected")
	ErrClosed      = errors.New("machine closed")
)
