// Package report renders the end-of-run summary table.
package report

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tsdataclinic/mta/internal/driver"
)

// Write renders one row per outcome plus a totals footer to w.
func Write(w io.Writer, outcomes []driver.Outcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Range", "Status", "Pages", "Rows", "Took", "Checkpoint"})

	var pages, rows, collected int
	var took time.Duration
	for _, o := range outcomes {
		t.AppendRow(table.Row{
			o.Range.StartLabel + " - " + o.Range.EndLabel,
			string(o.Status),
			o.Pages,
			o.Rows,
			o.Duration.Round(time.Millisecond).String(),
			o.URI,
		})
		if o.Status == driver.StatusCollected {
			collected++
		}
		pages += o.Pages
		rows += o.Rows
		took += o.Duration
	}

	t.AppendFooter(table.Row{"Total", collected, pages, rows, took.Round(time.Millisecond).String(), ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// WritePlan renders the planned ranges and their checkpoint state to w.
func WritePlan(w io.Writer, entries []driver.PlanEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Start", "End", "Checkpoint", "Done"})
	pending := 0
	for i, e := range entries {
		done := "no"
		if e.Done {
			done = "yes"
		} else {
			pending++
		}
		t.AppendRow(table.Row{i + 1, e.Range.StartLabel, e.Range.EndLabel, e.Range.CheckpointID, done})
	}
	t.AppendFooter(table.Row{"", "", "", "Pending", pending})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
