// Package gcsstore implements a Google Cloud Storage backend.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/discochess/listpress/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a Google Cloud Storage backend.
type Store struct {
	client    *storage.Client
	chunkSize int
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the resumable upload chunk size. The writer buffers one
// chunk in memory at a time.
func WithChunkSize(n int) Option {
	return func(s *Store) { s.chunkSize = n }
}

// New creates a new GCS store.
// clientOpts are passed to storage.NewClient (credentials, endpoint).
func New(ctx context.Context, opts []Option, clientOpts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &Store{
		client:    client,
		chunkSize: googleDefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// googleDefaultChunkSize mirrors storage.Writer's default of 16 MiB.
const googleDefaultChunkSize = 16 << 20

// Get opens a reader on the object.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	return reader, nil
}

// Exists fetches the object attributes.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading attrs: %w", err)
	}
	return true, nil
}

// Put streams r through a resumable upload. On a read error the upload
// context is cancelled, which aborts the upload without finalizing the object.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ChunkSize = s.chunkSize
	w.Metadata = metadata

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object: %w", err)
	}
	return nil
}

// Copy rewrites srcKey onto dstKey with the given metadata.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string, metadata map[string]string) error {
	b := s.client.Bucket(bucket)
	copier := b.Object(dstKey).CopierFrom(b.Object(srcKey))
	copier.Metadata = metadata

	if _, err := copier.Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return store.ErrNotFound
		}
		return fmt.Errorf("copying object: %w", err)
	}
	return nil
}

// Delete removes the object. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	return s.client.Close()
}
