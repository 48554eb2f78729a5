// Package gcs provides a checkpoint store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tsdataclinic/mta/internal/checkpoint"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store writes checkpoints to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// New creates a GCS-backed store around an existing client.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Open creates a client using Application Default Credentials and verifies
// the bucket is reachable before any range is scraped.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close releases the client when the store created it.
func (s *Store) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

// Exists reports whether the checkpoint object is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := checkpoint.ValidateID(id); err != nil {
		return false, err
	}
	name := checkpoint.ObjectName(s.prefix, id)
	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat object %s: %w", name, err)
	}
}

// Write uploads data in a single object write and returns a gs:// URI.
func (s *Store) Write(ctx context.Context, id string, data []byte) (string, error) {
	if err := checkpoint.ValidateID(id); err != nil {
		return "", err
	}
	name := checkpoint.ObjectName(s.prefix, id)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
