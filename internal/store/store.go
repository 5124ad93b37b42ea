// Package store defines the object storage interface the pipeline consumes.
package store

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("store: object not found")

// Store is an object storage backend addressed by bucket and key.
// Implementations handle credentials and transport details internally.
type Store interface {
	// Get opens the object for streaming. Returns ErrNotFound if it is missing.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Exists probes for the object without transferring its body.
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Put streams r to the object with the given metadata. If r returns an
	// error nothing is left at key.
	Put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error

	// Copy copies srcKey to dstKey within bucket, replacing the metadata of
	// dstKey with metadata. srcKey and dstKey may be equal.
	Copy(ctx context.Context, bucket, srcKey, dstKey string, metadata map[string]string) error

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// CloneMetadata returns a copy of m, or nil if m is empty.
func CloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
