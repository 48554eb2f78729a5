// Package planner partitions a calendar year into monthly archive queries.
package planner

import (
	"time"

	"github.com/tsdataclinic/mta/internal/archive"
)

const (
	labelLayout      = "01/02/2006"
	checkpointLayout = "01_02_2006"
)

// Months is the number of ranges Plan produces.
const Months = 12

// Plan returns one DateRange per calendar month of year, January first.
func Plan(year int) []archive.DateRange {
	ranges := make([]archive.DateRange, 0, Months)
	for m := 0; m < Months; m++ {
		ranges = append(ranges, Month(year, m))
	}
	return ranges
}

// Month returns the range for the zero-based month index m of year.
func Month(year, m int) archive.DateRange {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, m, 0)
	end := start.AddDate(0, 1, -1)
	return archive.DateRange{
		Start:        start,
		End:          end,
		StartLabel:   start.Format(labelLayout),
		EndLabel:     end.Format(labelLayout),
		CheckpointID: start.Format(checkpointLayout) + "-" + end.Format(checkpointLayout),
	}
}
