package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/discochess/listpress/internal/config"
	"github.com/discochess/listpress/internal/store"
	"github.com/discochess/listpress/internal/store/diskstore"
	"github.com/discochess/listpress/internal/store/gcsstore"
	"github.com/discochess/listpress/internal/store/miniostore"
	"github.com/discochess/listpress/internal/store/s3store"
)

// location is an object addressed as scheme://bucket/key.
type location struct {
	Scheme string
	Bucket string
	Key    string
}

// parseLocation parses "s3://bucket/key" and the gs, minio and file
// equivalents.
func parseLocation(raw string) (location, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return location{}, fmt.Errorf("invalid location %q: missing scheme", raw)
	}

	switch scheme {
	case "s3", "gs", "minio", "file":
	default:
		return location{}, fmt.Errorf("invalid location %q: unsupported scheme %q", raw, scheme)
	}

	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return location{}, fmt.Errorf("invalid location %q: missing bucket name", raw)
	}
	if key == "" {
		return location{}, fmt.Errorf("invalid location %q: missing object key", raw)
	}

	// Keys may be given URL-encoded, as they appear in notifications.
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}

	return location{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

// openStore returns the store backing scheme.
func openStore(ctx context.Context, c *config.Config, scheme string, logger *zap.Logger) (store.Store, error) {
	logger.Debug("opening store", zap.String("scheme", scheme))

	switch scheme {
	case "s3":
		return s3store.New(ctx,
			s3store.WithRegion(c.Region),
			s3store.WithEndpoint(c.Endpoint),
			s3store.WithPartSize(c.PartSize),
		)
	case "gs":
		var clientOpts []option.ClientOption
		if c.Endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(c.Endpoint))
		}
		return gcsstore.New(ctx, []gcsstore.Option{gcsstore.WithChunkSize(int(c.PartSize))}, clientOpts...)
	case "minio":
		return miniostore.New(miniostore.Config{
			Endpoint:  c.Minio.Endpoint,
			AccessKey: c.Minio.AccessKey,
			SecretKey: c.Minio.SecretKey,
			Region:    c.Region,
			UseSSL:    c.Minio.UseSSL,
			PartSize:  uint64(c.PartSize),
		})
	case "file":
		return diskstore.New(c.DataDir)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
}
