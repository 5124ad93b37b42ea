// Package memstore provides an in-memory store implementation for testing.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/discochess/listpress/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Object is a stored object.
type Object struct {
	Data     []byte
	Metadata map[string]string
}

// Store is an in-memory store for testing.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Object

	// Fault hooks, consulted before each operation when set.
	GetErr    func(bucket, key string) error
	ExistsErr func(bucket, key string) error
	PutErr    func(bucket, key string) error
	CopyErr   func(bucket, srcKey, dstKey string) error
	DeleteErr func(bucket, key string) error
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string]Object),
	}
}

// SetObject stores an object (for test setup).
// The data is copied to prevent caller mutations from affecting the store.
func (s *Store) SetObject(bucket, key string, data []byte, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(bucket, key, Object{
		Data:     bytes.Clone(data),
		Metadata: store.CloneMetadata(metadata),
	})
}

// Object returns a stored object (for test assertions).
func (s *Store) Object(bucket, key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return Object{}, false
	}
	return Object{
		Data:     bytes.Clone(obj.Data),
		Metadata: store.CloneMetadata(obj.Metadata),
	}, true
}

// Keys returns the keys stored in bucket in sorted order.
func (s *Store) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Get returns a reader over a copy of the object data.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if s.GetErr != nil {
		if err := s.GetErr(bucket, key); err != nil {
			return nil, err
		}
	}
	obj, ok := s.Object(bucket, key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

// Exists reports whether the object is present.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if s.ExistsErr != nil {
		if err := s.ExistsErr(bucket, key); err != nil {
			return false, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucket][key]
	return ok, nil
}

// Put reads r fully and stores it only if the read succeeds.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error {
	if s.PutErr != nil {
		if err := s.PutErr(bucket, key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(bucket, key, Object{Data: data, Metadata: store.CloneMetadata(metadata)})
	return nil
}

// Copy copies an object, replacing the destination metadata.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string, metadata map[string]string) error {
	if s.CopyErr != nil {
		if err := s.CopyErr(bucket, srcKey, dstKey); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.buckets[bucket][srcKey]
	if !ok {
		return store.ErrNotFound
	}
	s.set(bucket, dstKey, Object{
		Data:     bytes.Clone(src.Data),
		Metadata: store.CloneMetadata(metadata),
	})
	return nil
}

// Delete removes an object. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if s.DeleteErr != nil {
		if err := s.DeleteErr(bucket, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) set(bucket, key string, obj Object) {
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]Object)
		s.buckets[bucket] = b
	}
	b[key] = obj
}
