// Package archive mirrors downloaded documents to durable object storage.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSStore implements pipeline.ArchiveStore on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewGCSStore initializes a GCS client and verifies bucket access so bad
// configuration fails at startup. Authentication uses Application Default
// Credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// PutObject uploads r under the configured prefix. Close finalizes the
// upload, so its error is the one that matters.
func (g *GCSStore) PutObject(ctx context.Context, key string, r io.Reader) error {
	name := key
	if g.prefix != "" {
		name = path.Join(g.prefix, key)
	}
	wc := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(wc, r); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			g.logger.Warn("close gcs writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write gcs object %q: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %q: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
