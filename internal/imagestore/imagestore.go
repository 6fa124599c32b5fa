package imagestore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists under a storage key.
var ErrNotFound = errors.New("image not found")

// ImageStore keeps sealed image blobs. Callers only ever hand it ciphertext.
type ImageStore interface {
	Save(ctx context.Context, prefix string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}
