// Package miniostore implements a storage backend for S3-compatible servers
// using the MinIO client.
package miniostore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/discochess/listpress/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Config holds connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool

	// PartSize is the multipart part size for streaming uploads of unknown
	// length. Zero uses 16 MiB.
	PartSize uint64
}

// Store is an S3-compatible storage backend backed by minio-go.
type Store struct {
	client   *minio.Client
	partSize uint64
}

// New creates a new MinIO store.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = 16 << 20
	}

	return &Store{client: client, partSize: partSize}, nil
}

// Get opens the object. minio-go defers the request until the first read,
// so a Stat is issued first to surface missing objects.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting object: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting object: %w", err)
	}
	return obj, nil
}

// Exists stats the object.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Put streams r with unknown size as a multipart upload. minio-go aborts
// the upload when r fails.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, -1, minio.PutObjectOptions{
		UserMetadata: metadata,
		PartSize:     s.partSize,
	})
	if err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

// Copy performs a server-side copy replacing the destination metadata.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string, metadata map[string]string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          bucket,
			Object:          dstKey,
			UserMetadata:    metadata,
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{
			Bucket: bucket,
			Object: srcKey,
		},
	)
	if err != nil {
		if isNotFound(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("copying object: %w", err)
	}
	return nil
}

// Delete removes the object. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("removing object: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket")
}
