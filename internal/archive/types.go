// Package archive defines the message-archive domain types and the paginated
// collector that walks the archive's result grid for one date range.
package archive

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by extraction and pagination.
var (
	// ErrTableNotFound indicates the results table is missing from the render.
	ErrTableNotFound = errors.New("results table not found")
	// ErrMarkerNotFound indicates a page indicator element is missing.
	ErrMarkerNotFound = errors.New("page marker not found")
	// ErrPageLimit indicates pagination exceeded the configured page cap.
	ErrPageLimit = errors.New("page limit exceeded")
)

// DateRange is one contiguous query window and its checkpoint key.
type DateRange struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	StartLabel   string    `json:"start_label"`
	EndLabel     string    `json:"end_label"`
	CheckpointID string    `json:"checkpoint_id"`
}

// Row is the cell text of one table row in document order.
type Row []string

// PageMarker is the pair of labels the pager shows for the current render.
type PageMarker struct {
	Current string `json:"current"`
	Total   string `json:"total"`
}

// Last reports whether the marker identifies the terminal page.
// Labels are opaque; only string equality is meaningful.
func (m PageMarker) Last() bool {
	return m.Current == m.Total
}

// PageResult is everything extracted from a single rendered page.
type PageResult struct {
	Rows   []Row
	Marker PageMarker
}

// CollectedRange is the accumulated output for one DateRange.
type CollectedRange struct {
	Range DateRange
	Rows  []Row
	Pages int
}
