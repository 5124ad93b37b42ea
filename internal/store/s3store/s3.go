// Package s3store implements an AWS S3 storage backend.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/discochess/listpress/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// DefaultPartSize is the multipart upload part size. Together with the
// upload concurrency it bounds the memory Put holds at once.
const DefaultPartSize = manager.DefaultUploadPartSize

// Store is an AWS S3 storage backend.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
}

type settings struct {
	region      string
	endpoint    string
	partSize    int64
	concurrency int
	client      *s3.Client
}

// Option configures a Store.
type Option func(*settings)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(s *settings) { s.region = region }
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
// Path-style addressing is enabled.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.endpoint = endpoint }
}

// WithPartSize sets the multipart upload part size in bytes.
func WithPartSize(n int64) Option {
	return func(s *settings) { s.partSize = n }
}

// WithUploadConcurrency sets how many parts are uploaded in parallel.
func WithUploadConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithClient uses an existing client instead of loading the default AWS
// configuration. Region and endpoint options are ignored.
func WithClient(c *s3.Client) Option {
	return func(s *settings) { s.client = c }
}

// New creates a new S3 store.
// Credentials come from the default AWS configuration chain.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := settings{
		partSize:    DefaultPartSize,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.region))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.endpoint)
				o.UsePathStyle = true
			}
		})
	}

	return &Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = cfg.partSize
			u.Concurrency = cfg.concurrency
		}),
	}, nil
}

// Get opens the object body for streaming.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting object: %w", err)
	}
	return result.Body, nil
}

// Exists issues a HEAD request for the object.
func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("heading object: %w", err)
	}
	return true, nil
}

// Put streams r to S3 through the multipart upload manager. A failed upload
// is aborted, so no object is created at key.
func (s *Store) Put(ctx context.Context, bucket, key string, r io.Reader, metadata map[string]string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

// Copy performs a server-side copy with the REPLACE metadata directive.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string, metadata map[string]string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(dstKey),
		CopySource:        aws.String(copySource(bucket, srcKey)),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		if isNotFound(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("copying object: %w", err)
	}
	return nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *Store) Close() error {
	// S3 client doesn't need explicit closing.
	return nil
}

// copySource returns the URL-escaped "bucket/key" copy source.
func copySource(bucket, key string) string {
	return url.PathEscape(bucket) + "/" + (&url.URL{Path: key}).EscapedPath()
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
