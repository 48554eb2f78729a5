// Package local implements a filesystem checkpoint store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tsdataclinic/mta/internal/checkpoint"
)

// Config captures the parameters for the filesystem checkpoint store.
type Config struct {
	// Dir is the directory holding one <id>.json file per range.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Store writes checkpoints to the local filesystem.
type Store struct {
	dir string
}

// New creates the checkpoint directory if needed and verifies it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat checkpoint directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("checkpoint path %s is not a directory", cfg.Dir)
	}

	testFile := filepath.Join(cfg.Dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("checkpoint directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{dir: cfg.Dir}, nil
}

// Path returns the file a checkpoint id maps to.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, checkpoint.ObjectName("", id))
}

// Exists reports whether the checkpoint file for id is present.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	if err := checkpoint.ValidateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat checkpoint %s: %w", id, err)
	}
}

// Write stages data in a temp file and renames it into place, so a crash
// never leaves a truncated checkpoint that a rerun would skip.
func (s *Store) Write(ctx context.Context, id string, data []byte) (string, error) {
	if err := checkpoint.ValidateID(id); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	target := s.Path(id)

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write checkpoint %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close checkpoint %s: %w", id, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return "", fmt.Errorf("rename checkpoint %s: %w", id, err)
	}
	return "file://" + target, nil
}
