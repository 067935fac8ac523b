// Package gcs writes exported artifacts to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore uploads exports to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	object := strings.TrimPrefix(path.Join(s.prefix, name), "/")
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.Metadata = map[string]string{"source": "runwatch"}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
