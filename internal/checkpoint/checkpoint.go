// Package checkpoint defines the persisted per-range results whose presence
// marks a range as done.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Ext is appended to every checkpoint id to form its object name.
const Ext = ".json"

// Store reports and persists completed ranges.
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Write persists data under id and returns a URI for the stored object.
	Write(ctx context.Context, id string, data []byte) (string, error)
}

// ErrInvalidID indicates an id that cannot be used as an object name.
var ErrInvalidID = errors.New("invalid checkpoint id")

// ValidateID rejects ids that are empty or could escape their directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ObjectName joins an optional prefix with the id's file name.
func ObjectName(prefix, id string) string {
	name := id + Ext
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
