// Package notify announces completed checkpoints to downstream consumers.
package notify

import (
	"context"
	"time"
)

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CheckpointEvent is published once per newly written checkpoint.
type CheckpointEvent struct {
	RunID        string    `json:"run_id"`
	CheckpointID string    `json:"checkpoint_id"`
	URI          string    `json:"uri"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	Rows         int       `json:"rows"`
	Pages        int       `json:"pages"`
	SHA256       string    `json:"sha256"`
	CompletedAt  time.Time `json:"completed_at"`
}
