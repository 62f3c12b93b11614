// Package blobstore abstracts the archive targets a finished snapshot can be
// copied to after compaction: a local directory, an S3 bucket, or a MinIO
// bucket. Edge deployments use this to ship durable state off-device without
// any control plane.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an archived object does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is a write-mostly object store for snapshot archives.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put uploads an object. size is the exact content length; the MinIO
	// backend passes it to PutObject, the other backends ignore it.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Open opens an archived object for reading.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an archived object. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the backend for logging.
	Name() string
}
