// Package blob stores file bytes under opaque storage names. The registry
// owns all metadata; a blob store only ever sees the generated names.
package blob

import (
	"context"
	"errors"
	"io"
)

var ErrNotExist = errors.New("blob does not exist")

// Store is the byte-persistence capability behind the file registry.
type Store interface {
	// Put streams r to the blob named by storageName and returns the
	// number of bytes written. The write is atomic: a partially written
	// blob is never visible under its final name.
	Put(ctx context.Context, storageName string, r io.Reader) (int64, error)
	// Open returns the blob contents for reading. ErrNotExist when the
	// blob is gone.
	Open(ctx context.Context, storageName string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing blob is a no-op.
	Delete(ctx context.Context, storageName string) error
	// Exists reports whether the blob is present.
	Exists(ctx context.Context, storageName string) (bool, error)
}
