// Package status tracks run progress and serves it over HTTP.
package status

import (
	"sync"
	"time"

	"github.com/tsdataclinic/mta/internal/archive"
	"github.com/tsdataclinic/mta/internal/driver"
)

// Range states reported by /status.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCollected = "collected"
	StateSkipped   = "skipped"
	StateFailed    = "failed"
)

// RangeStatus is the live view of one planned range.
type RangeStatus struct {
	ID          string `json:"id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	State       string `json:"state"`
	Pages       int    `json:"pages"`
	Rows        int    `json:"rows"`
	CurrentPage string `json:"current_page,omitempty"`
	TotalPages  string `json:"total_pages,omitempty"`
	URI         string `json:"uri,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of the run.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Ranges    []RangeStatus `json:"ranges"`
}

// Tracker records page and range events from the collector and driver.
// It satisfies archive.Observer and driver.Progress.
type Tracker struct {
	mu        sync.RWMutex
	runID     string
	startedAt time.Time
	order     []string
	ranges    map[string]*RangeStatus
}

// NewTracker seeds every planned range as pending.
func NewTracker(runID string, startedAt time.Time, planned []archive.DateRange) *Tracker {
	t := &Tracker{
		runID:     runID,
		startedAt: startedAt,
		order:     make([]string, 0, len(planned)),
		ranges:    make(map[string]*RangeStatus, len(planned)),
	}
	for _, r := range planned {
		t.entry(r)
	}
	return t
}

// entry returns the status for r, creating it if needed. Callers hold mu.
func (t *Tracker) entry(r archive.DateRange) *RangeStatus {
	if rs, ok := t.ranges[r.CheckpointID]; ok {
		return rs
	}
	rs := &RangeStatus{ID: r.CheckpointID, Start: r.StartLabel, End: r.EndLabel, State: StatePending}
	t.ranges[r.CheckpointID] = rs
	t.order = append(t.order, r.CheckpointID)
	return rs
}

// RangeStarted marks r as running.
func (t *Tracker) RangeStarted(r archive.DateRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.entry(r)
	rs.State = StateRunning
	rs.Error = ""
}

// PageCollected records pager progress within a running range.
func (t *Tracker) PageCollected(r archive.DateRange, marker archive.PageMarker, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.entry(r)
	rs.Pages++
	rs.Rows += rows
	rs.CurrentPage = marker.Current
	rs.TotalPages = marker.Total
}

// RangeFinished records a collected or skipped range.
func (t *Tracker) RangeFinished(o driver.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.entry(o.Range)
	rs.State = string(o.Status)
	rs.URI = o.URI
	if o.Status == driver.StatusCollected {
		rs.Pages = o.Pages
		rs.Rows = o.Rows
	}
}

// RangeFailed records the error that stopped the run.
func (t *Tracker) RangeFailed(r archive.DateRange, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs := t.entry(r)
	rs.State = StateFailed
	if err != nil {
		rs.Error = err.Error()
	}
}

// Snapshot copies the current state in plan order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := Snapshot{
		RunID:     t.runID,
		StartedAt: t.startedAt,
		Ranges:    make([]RangeStatus, 0, len(t.order)),
	}
	for _, id := range t.order {
		out.Ranges = append(out.Ranges, *t.ranges[id])
	}
	return out
}
