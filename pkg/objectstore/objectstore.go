// Package objectstore wraps the remote object store used to persist sealed
// columnar files and their Puffin indexes (spec.md §6 object naming).
package objectstore

import (
	"context"
	"io"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/errs"

	"go.corestream.dev/corestream/pkg/corerr"
)

// Error is this package's errs.Class.
var Error = errs.Class("objectstore")

// Store is the minimal surface the core needs from an object store: PUT a
// whole object, and GET a byte range (used by the Puffin range reader,
// C5/C6). Backed by S3 in production (see S3Store); the in-memory
// MemStore satisfies it for tests.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Size(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// NewULID returns a lexicographically-sortable object id for use in
// stream.ObjectName, grounded on the ULID usage in the arrowarc manifest.
func NewULID() string {
	return ulid.Make().String()
}

// GetFileContents reads [range.Start, range.End) from key. Returns
// corerr.IoError wrapped as io.ErrUnexpectedEOF when range.End exceeds the
// object's size (spec.md §8 boundary behavior).
func GetFileContents(ctx context.Context, s Store, key string, rng *Range) ([]byte, error) {
	if rng == nil {
		size, err := s.Size(ctx, key)
		if err != nil {
			return nil, err
		}
		return s.GetRange(ctx, key, 0, size)
	}

	size, err := s.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	if rng.End > size {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, io.ErrUnexpectedEOF))
	}
	return s.GetRange(ctx, key, rng.Start, rng.End-rng.Start)
}

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}
