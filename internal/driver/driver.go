// Package driver runs the planned ranges in order, skipping ranges whose
// checkpoint already exists and checkpointing the rest.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsdataclinic/mta/internal/archive"
	"github.com/tsdataclinic/mta/internal/checkpoint"
	"github.com/tsdataclinic/mta/internal/metrics"
	"github.com/tsdataclinic/mta/internal/notify"
)

// RangeCollector gathers all rows for one range.
type RangeCollector interface {
	Collect(ctx context.Context, r archive.DateRange) (archive.CollectedRange, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes checkpoint digests for notifications.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Progress observes range lifecycle transitions.
type Progress interface {
	RangeStarted(r archive.DateRange)
	RangeFinished(o Outcome)
	RangeFailed(r archive.DateRange, err error)
}

// Status is the result of processing one range.
type Status string

// Range statuses.
const (
	StatusCollected Status = metrics.RangeCollected
	StatusSkipped   Status = metrics.RangeSkipped
)

// Outcome summarizes one processed range.
type Outcome struct {
	Range    archive.DateRange
	Status   Status
	Rows     int
	Pages    int
	Bytes    int
	Duration time.Duration
	URI      string
}

// PlanEntry pairs a range with its checkpoint state.
type PlanEntry struct {
	Range archive.DateRange
	Done  bool
}

// Config carries per-run settings.
type Config struct {
	RunID string
	// Topic receives a CheckpointEvent per written range; empty disables publishing.
	Topic string
}

// Runner executes ranges sequentially against one store and collector.
type Runner struct {
	store     checkpoint.Store
	collector RangeCollector
	publisher notify.Publisher
	hasher    Hasher
	clock     Clock
	progress  Progress
	cfg       Config
	logger    *zap.Logger
}

// New wires a Runner. publisher, hasher, and progress may be nil.
func New(
	store checkpoint.Store,
	collector RangeCollector,
	publisher notify.Publisher,
	hasher Hasher,
	clock Clock,
	progress Progress,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:     store,
		collector: collector,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		progress:  progress,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run processes ranges in order. The first failure aborts the run; ranges
// completed before it stay checkpointed and are skipped on the next run.
func (r *Runner) Run(ctx context.Context, ranges []archive.DateRange) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(ranges))
	for _, rg := range ranges {
		if err := ctx.Err(); err != nil {
			return outcomes, fmt.Errorf("run interrupted before %s: %w", rg.CheckpointID, err)
		}
		if r.progress != nil {
			r.progress.RangeStarted(rg)
		}
		out, err := r.runRange(ctx, rg)
		if err != nil {
			metrics.ObserveRange(metrics.RangeFailed)
			if r.progress != nil {
				r.progress.RangeFailed(rg, err)
			}
			return outcomes, fmt.Errorf("range %s: %w", rg.CheckpointID, err)
		}
		metrics.ObserveRange(string(out.Status))
		if r.progress != nil {
			r.progress.RangeFinished(out)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Pending reports the checkpoint state of each range without collecting.
func (r *Runner) Pending(ctx context.Context, ranges []archive.DateRange) ([]PlanEntry, error) {
	entries := make([]PlanEntry, 0, len(ranges))
	for _, rg := range ranges {
		done, err := r.store.Exists(ctx, rg.CheckpointID)
		if err != nil {
			return entries, fmt.Errorf("check %s: %w", rg.CheckpointID, err)
		}
		entries = append(entries, PlanEntry{Range: rg, Done: done})
	}
	return entries, nil
}

func (r *Runner) runRange(ctx context.Context, rg archive.DateRange) (Outcome, error) {
	logger := r.logger.With(zap.String("range", rg.CheckpointID))
	done, err := r.store.Exists(ctx, rg.CheckpointID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check checkpoint: %w", err)
	}
	if done {
		logger.Info("Done and skipping")
		return Outcome{Range: rg, Status: StatusSkipped}, nil
	}

	start := r.clock.Now()
	logger.Info("Collecting range", zap.String("start", rg.StartLabel), zap.String("end", rg.EndLabel))
	collected, err := r.collector.Collect(ctx, rg)
	if err != nil {
		return Outcome{}, err
	}

	payload, err := Encode(collected.Rows)
	if err != nil {
		return Outcome{}, err
	}
	uri, err := r.store.Write(ctx, rg.CheckpointID, payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("write checkpoint: %w", err)
	}
	metrics.ObserveCheckpoint(len(payload))

	out := Outcome{
		Range:    rg,
		Status:   StatusCollected,
		Rows:     len(collected.Rows),
		Pages:    collected.Pages,
		Bytes:    len(payload),
		Duration: r.clock.Now().Sub(start),
		URI:      uri,
	}
	logger.Info("Checkpoint written",
		zap.String("uri", uri),
		zap.Int("rows", out.Rows),
		zap.Int("pages", out.Pages),
		zap.Duration("took", out.Duration),
	)
	r.announce(ctx, out, payload, logger)
	return out, nil
}

// announce publishes a completion event. The checkpoint is already durable,
// so failures are logged rather than returned.
func (r *Runner) announce(ctx context.Context, out Outcome, payload []byte, logger *zap.Logger) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	event := notify.CheckpointEvent{
		RunID:        r.cfg.RunID,
		CheckpointID: out.Range.CheckpointID,
		URI:          out.URI,
		Start:        out.Range.StartLabel,
		End:          out.Range.EndLabel,
		Rows:         out.Rows,
		Pages:        out.Pages,
		CompletedAt:  r.clock.Now(),
	}
	if r.hasher != nil {
		digest, err := r.hasher.Hash(payload)
		if err != nil {
			logger.Warn("Failed to hash checkpoint", zap.Error(err))
		}
		event.SHA256 = digest
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		logger.Warn("Failed to publish checkpoint event", zap.String("topic", r.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("Published checkpoint event", zap.String("message_id", id))
}

// Encode renders rows as a JSON array of string arrays; no rows yields [].
func Encode(rows []archive.Row) ([]byte, error) {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			row = archive.Row{}
		}
		out = append(out, row)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return data, nil
}

// Decode parses a checkpoint payload written by Encode.
func Decode(data []byte) ([]archive.Row, error) {
	var raw [][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode rows: payload is not an array")
	}
	rows := make([]archive.Row, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, archive.Row(r))
	}
	return rows, nil
}
