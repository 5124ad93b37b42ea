// Package diskstore implements a filesystem storage backend.
//
// Objects live at <root>/<bucket>/<key>. Metadata is kept as JSON under
// <root>/.metadata/<bucket>/<key>.json so it never shadows an object key.
package diskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/discochess/listpress/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

const metadataDir = ".metadata"

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("diskstore: invalid key")

// Store is a filesystem storage backend.
type Store struct {
	root string
}

// New creates a new disk store rooted at the given directory.
// The directory must exist.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	return &Store{root: root}, nil
}

// Get opens the object file.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return f, nil
}

// Exists stats the object file.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Put writes r to a temporary file next to the object and renames it into
// place once fully written.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := s.writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	}); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	if err := s.writeMetadata(bucket, key, metadata); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// Copy copies the object file and replaces the destination metadata.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string, metadata map[string]string) error {
	srcPath, err := s.objectPath(bucket, srcKey)
	if err != nil {
		return err
	}
	dstPath, err := s.objectPath(bucket, dstKey)
	if err != nil {
		return err
	}

	if srcPath != dstPath {
		src, err := os.Open(srcPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return store.ErrNotFound
			}
			return fmt.Errorf("opening source: %w", err)
		}
		defer src.Close()

		if err := s.writeAtomic(dstPath, func(w io.Writer) error {
			_, err := io.Copy(w, src)
			return err
		}); err != nil {
			return fmt.Errorf("copying object: %w", err)
		}
	} else if _, err := os.Stat(srcPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.ErrNotFound
		}
		return fmt.Errorf("stat source: %w", err)
	}

	return s.writeMetadata(bucket, dstKey, metadata)
}

// Delete removes the object file and its metadata.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing object: %w", err)
	}
	metaPath, err := s.metadataPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing metadata: %w", err)
	}
	return nil
}

// Metadata reads the metadata stored for an object.
func (s *Store) Metadata(bucket, key string) (map[string]string, error) {
	path, err := s.metadataPath(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return m, nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeMetadata(bucket, key string, metadata map[string]string) error {
	path, err := s.metadataPath(bucket, key)
	if err != nil {
		return err
	}
	if len(metadata) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing metadata: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := s.writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// writeAtomic creates path's directory, writes through fill into a temp file
// and renames it over path. On error the temp file is removed.
func (s *Store) writeAtomic(path string, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *Store) objectPath(bucket, key string) (string, error) {
	name := filepath.FromSlash(key)
	if bucket == metadataDir || strings.ContainsAny(bucket, `/\`) ||
		!filepath.IsLocal(bucket) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidKey, bucket, key)
	}
	return filepath.Join(s.root, bucket, name), nil
}

func (s *Store) metadataPath(bucket, key string) (string, error) {
	if _, err := s.objectPath(bucket, key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, metadataDir, bucket, filepath.FromSlash(key)+".json"), nil
}
